package features

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/cucumber/godog"
	"github.com/go-chi/chi/v5"

	spendingapi "cardcrm/internal/spending/api"
	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/infrastructure/issuer"
	"cardcrm/internal/spending/infrastructure/memory"
)

type contractState struct {
	server   *httptest.Server
	response *http.Response
}

func InitializeScenario(sc *godog.ScenarioContext) {
	state := &contractState{}

	sc.Step(`^the service is running$`, state.theServiceIsRunning)
	sc.Step(`^I request the health endpoint$`, state.iRequestTheHealthEndpoint)
	sc.Step(`^I request "(GET|POST|PATCH|DELETE)" "([^"]*)"$`, state.iRequest)
	sc.Step(`^the response status should be (\d+)$`, state.theResponseStatusShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, state.theResponseHeaderShouldBe)

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if state.server != nil {
			state.server.Close()
		}
		if state.response != nil {
			state.response.Body.Close()
		}
		return ctx, nil
	})
}

func (s *contractState) theServiceIsRunning() error {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	service := application.NewLimitsService(memory.NewDataStore(), issuer.NewStub())
	spendingapi.NewHandler(service, nil).RegisterRoutes(r)

	s.server = httptest.NewServer(r)
	return nil
}

func (s *contractState) iRequestTheHealthEndpoint() error {
	return s.iRequest(http.MethodGet, "/health")
}

func (s *contractState) iRequest(method, path string) error {
	if s.server == nil {
		return fmt.Errorf("server not running")
	}
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s %s: %w", method, path, err)
	}
	s.response = resp
	return nil
}

func (s *contractState) theResponseStatusShouldBe(expected int) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if s.response.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d", expected, s.response.StatusCode)
	}
	return nil
}

func (s *contractState) theResponseHeaderShouldBe(name, expected string) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if got := s.response.Header.Get(name); got != expected {
		return fmt.Errorf("expected header %s %q, got %q", name, expected, got)
	}
	return nil
}
