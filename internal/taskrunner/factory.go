package taskrunner

import (
	"log"
	"os"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "SWARMCTL_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewFromEnv returns a MockRunner when SWARMCTL_MODE=MOCK is set, and nil
// otherwise. There is no bundled real Runner — a concrete provider
// integration is expected to be supplied by the embedder and wired in
// place of the nil return.
func NewFromEnv() Runner {
	if os.Getenv(EnvMode) == ModeMock {
		log.Println("SWARMCTL_MODE=MOCK detected, using mock task runner")
		return NewMockRunner()
	}
	return nil
}
