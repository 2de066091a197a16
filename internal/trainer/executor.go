package trainer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Executor runs one model artifact against one dataset chunk and returns the
// resulting weights bytes.
type Executor interface {
	Execute(ctx context.Context, modelBytes, chunkBytes []byte) ([]byte, error)
}

// SelectExecutor picks the in-process WASM sandbox for .wasm model
// artifacts and an external-process executor for anything else, so a
// deployment can mix lightweight WASM models with a heavier native trainer
// binary without changing the round protocol.
func SelectExecutor(modelURL, trainerExecutable string) Executor {
	if strings.HasSuffix(strings.ToLower(pathOnly(modelURL)), ".wasm") {
		return wasmExecutor{}
	}
	return externalExecutor{executable: trainerExecutable}
}

func pathOnly(rawURL string) string {
	if idx := strings.IndexByte(rawURL, '?'); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	return rawURL
}

// wasmExecutor runs the model inside an in-process WASM sandbox, grounded
// on the pack's wasm.Execute helper: compile the module, instantiate it
// with no imports, and invoke its exported "main" function with the chunk
// bytes.
type wasmExecutor struct{}

func (wasmExecutor) Execute(_ context.Context, modelBytes, chunkBytes []byte) ([]byte, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, modelBytes)
	if err != nil {
		return nil, fmt.Errorf("compile wasm module: %w", err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, fmt.Errorf("instantiate wasm module: %w", err)
	}
	mainFn, err := instance.Exports.GetFunction("main")
	if err != nil {
		return nil, fmt.Errorf("wasm module has no exported main: %w", err)
	}
	result, err := mainFn(chunkBytes)
	if err != nil {
		return nil, fmt.Errorf("wasm execution failed: %w", err)
	}
	weights, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("wasm main did not return a byte result")
	}
	return weights, nil
}

// externalExecutor shells out to a configured trainer executable, passing
// the model and chunk as scratch files and reading the resulting weights
// back from standard output.
type externalExecutor struct {
	executable string
}

func (e externalExecutor) Execute(ctx context.Context, modelBytes, chunkBytes []byte) ([]byte, error) {
	if e.executable == "" {
		return nil, fmt.Errorf("TRAINER_EXECUTABLE not configured for a non-wasm model")
	}

	dir, err := os.MkdirTemp("", "fedlearn-chunk-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	modelPath := filepath.Join(dir, "model")
	chunkPath := filepath.Join(dir, "chunk.csv")
	if err := os.WriteFile(modelPath, modelBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write model: %w", err)
	}
	if err := os.WriteFile(chunkPath, chunkBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write chunk: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.executable, modelPath, chunkPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("external executor failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
