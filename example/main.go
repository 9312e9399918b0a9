package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/artificial-james/tombflow"
	"github.com/artificial-james/tombflow/log"
	"github.com/artificial-james/tombflow/transfer"
)

func Map(in interface{}) (interface{}, error) {
	time.Sleep(100 * time.Millisecond)
	// Any errors cause the pipeline to cancel
	return fmt.Sprintf("squared: %d", in.(int64)*in.(int64)), nil
}

// squarer runs in a worker. It only sees what crosses the control port.
func squarer(ctx context.Context, control transfer.Port) error {
	in, err := transfer.AcceptReadable(ctx, control)
	if err != nil {
		return err
	}
	mapper := tombflow.NewMap(ctx, Map)
	if err := transfer.SendReadable(ctx, control, mapper.Readable()); err != nil {
		return err
	}
	if err := tombflow.PipeTo(ctx, in, mapper); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	logger := log.NewStderr("info")

	worker := transfer.Spawn(ctx, squarer, tombflow.WithLogger(logger))
	source := tombflow.NewChanSource(ctx, tombflow.Generate(ctx, 1, 2, 3, 4, 5))
	if err := transfer.SendReadable(ctx, worker.Port(), source); err != nil {
		fmt.Printf("Send failed: %v\n", err)
		os.Exit(1)
	}
	squared, err := transfer.AcceptReadable(ctx, worker.Port())
	if err != nil {
		fmt.Printf("Accept failed: %v\n", err)
		os.Exit(1)
	}

	// Chunks cross the worker boundary as serialized copies, so the
	// worker sees int64 where we sent int.
	err = tombflow.PipeTo(ctx, squared, tombflow.NewStdoutSink(ctx))
	if err != nil {
		fmt.Printf("(Pipe) Exited with error:  %v\n", err)
	}
	if err := worker.Terminate(); err != nil {
		fmt.Printf("(Worker) Exited with error:  %v\n", err)
	}
	fmt.Println("Done")
}
