package landmark

import (
	"fmt"
	"io"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/worker"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open resolves the configured backend once at session start. The returned closer releases
// whatever the backend holds (a child process for "process").
func Open(cfg config.LandmarkConfig, id int) (Locator, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendNone, "":
		return None, nopCloser{}, nil
	case config.BackendPigo:
		loc, err := NewPigoLocator(cfg)
		if err != nil {
			return nil, nil, err
		}
		return loc, nopCloser{}, nil
	case config.BackendProcess:
		w, err := worker.NewLandmarkWorker(id, cfg.Command, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return w, w, nil
	default:
		return nil, nil, fmt.Errorf("unknown landmark backend %q", cfg.Backend)
	}
}
