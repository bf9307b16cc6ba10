package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/xyproto/env/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/tensoreval/pkg/api/v1alpha1"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	serverAddr := env.Str("TENSORSERVER", "127.0.0.1:9876")
	expression := ""
	engineName := ""
	requestFile := ""

	flag.StringVar(&serverAddr, "server", serverAddr, "address of the tensorserver")
	flag.StringVar(&expression, "expr", expression, "expression to evaluate; remaining arguments bind its parameters as name=<inline json>")
	flag.StringVar(&engineName, "engine", engineName, "tensor engine to evaluate with; the server default if empty")
	flag.StringVar(&requestFile, "request", requestFile, "file holding a complete CalculateRequest as json, instead of -expr")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	var request *api.CalculateRequest
	switch {
	case requestFile != "":
		b, err := os.ReadFile(requestFile)
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}
		request = &api.CalculateRequest{}
		if err := json.Unmarshal(b, request); err != nil {
			return fmt.Errorf("parsing request %q: %w", requestFile, err)
		}
	case expression != "":
		r, err := buildRequest(expression, flag.Args())
		if err != nil {
			return err
		}
		request = r
	default:
		return fmt.Errorf("must specify -expr or -request")
	}
	if engineName != "" {
		request.Engine = engineName
	}

	var opts []grpc.DialOption
	opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))

	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to server %q: %w", serverAddr, err)
	}
	defer conn.Close()
	client := api.NewCalculatorClient(conn)

	log.V(2).Info("Starting tensorclient", "server", serverAddr)

	response, err := client.Calculate(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to calculate: %w", err)
	}

	out, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// buildRequest binds each name=<inline json> argument to a tensor and adds
// the expression as the output computation.
func buildRequest(expression string, args []string) (*api.CalculateRequest, error) {
	request := &api.CalculateRequest{}
	computation := &api.Computation{Expression: expression}

	for i, arg := range args {
		name, data, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q is not of the form name=<inline json>", arg)
		}
		inline := &api.InlineData{}
		if err := json.Unmarshal([]byte(data), inline); err != nil {
			return nil, fmt.Errorf("parsing tensor %q: %w", name, err)
		}
		id := int32(i + 1)
		request.Tensors = append(request.Tensors, &api.Tensor{Id: id, InlineData: inline})
		computation.Params = append(computation.Params, name)
		computation.Inputs = append(computation.Inputs, id)
	}

	resultID := int32(len(args) + 1)
	request.Tensors = append(request.Tensors, &api.Tensor{Id: resultID, Computation: computation})
	request.OutputTensors = []int32{resultID}
	return request, nil
}
