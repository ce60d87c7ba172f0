package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Pinger is implemented by dependencies that can verify their connection,
// such as a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker wraps p as a [Checker].
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// FileChecker fails when path is missing, is a directory, or is empty. It
// is used for the local model file.
func FileChecker(name, path string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		if fi.Size() == 0 {
			return fmt.Errorf("%s is empty", path)
		}
		return nil
	}}
}

// BackendState is the breaker view of one transcription backend.
type BackendState struct {
	Name string
	Open bool
}

// BackendsChecker fails only when every backend reported by states has an
// open circuit breaker. A single healthy backend keeps the service ready.
func BackendsChecker(name string, states func() []BackendState) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		list := states()
		if len(list) == 0 {
			return errors.New("no backends configured")
		}
		var open []string
		for _, s := range list {
			if !s.Open {
				return nil
			}
			open = append(open, s.Name)
		}
		return fmt.Errorf("all circuit breakers open: %s", strings.Join(open, ", "))
	}}
}
