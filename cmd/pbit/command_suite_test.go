package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/backend"
	"github.com/srg/pbit/internal/device"
	"github.com/srg/pbit/internal/testutils"
	"github.com/srg/pbit/pkg/config"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs pbit commands against a fake radio and a fake ingestion API.
type CommandTestSuite struct {
	suite.Suite

	Radio  *testutils.FakeRadio
	Server *httptest.Server

	originalRadio func(*logrus.Logger) device.Radio

	mu     sync.Mutex
	bodies []string
}

func (s *CommandTestSuite) SetupTest() {
	s.Radio = testutils.NewFakeRadio()
	s.originalRadio = newRadio
	newRadio = func(*logrus.Logger) device.Radio { return s.Radio }

	s.bodies = nil
	r := mux.NewRouter()
	r.HandleFunc("/"+backend.BatchPath, func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, string(body))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)
	s.Server = httptest.NewServer(r)

	s.T().Setenv(config.EnvAPIBaseURL, s.Server.URL)
	s.T().Setenv(config.EnvToken, "test-token")
	s.T().Setenv(config.EnvClassroomID, "class-1")
	s.T().Setenv(config.EnvMQTTBroker, "")

	// cobra keeps flag values between Execute calls
	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))
	s.Require().NoError(rootCmd.PersistentFlags().Set("config", ""))
	recordCompatible, recordDuration, recordNoColor, recordQuiet = false, 0, false, false
	scanAll, scanDuration = false, 0
}

func (s *CommandTestSuite) TearDownTest() {
	newRadio = s.originalRadio
	s.Server.Close()
}

// Batches returns the request bodies received by the fake ingestion API
func (s *CommandTestSuite) Batches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

// WriteConfig writes a YAML config file and returns its path
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "pbit.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// ExecuteCommand runs the root command with args, returns stdout, stderr and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}
