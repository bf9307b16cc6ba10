package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lmorg/readline"
	"github.com/xyproto/env/v2"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tensoreval/pkg/calc"
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
	engineName := env.Str("TENSOREVAL_ENGINE", "dense")
	flag.StringVar(&engineName, "engine", engineName, "tensor engine to evaluate with")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	e, found := calc.LookupEngine(engineName)
	if !found {
		return fmt.Errorf("unknown engine %q", engineName)
	}

	s := newSession(e, os.Stdout)
	log.V(2).Info("starting repl", "engine", e.Name())
	fmt.Println("tensoreval, type :help for commands")

	rline := readline.NewInstance()
	for {
		rline.SetPrompt(s.engine.Name() + "> ")
		line, err := rline.Readline()
		if err != nil {
			return nil
		}
		if !s.execute(line) {
			return nil
		}
	}
}
