// Package harness lets Go integration tests drive the fixture-runner CLI
// from TestMain. Setup starts the runner as a subprocess, waits for the
// RUNNING line carrying the fixture pod IP, runs the test suite, then closes
// the runner's stdin to trigger teardown.
package harness

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
)

// Callback is invoked after the fixture is running but
// before tests run.
type Callback func() error

// Setup orchestrates one fixture-runner process for a
// test binary.
type Setup struct {
	// ServerType tags the workload kind, e.g. "redis".
	ServerType string

	// Image is the container image reference.
	Image string

	// Command is the workload command line.
	Command []string

	// Env are container env vars.
	Env map[string]string

	// Labels are extra pod labels.
	Labels map[string]string

	// TailLogs asks the runner to stream fixture logs.
	TailLogs bool

	// ReadyCallback runs once the fixture is reachable.
	ReadyCallback Callback

	hostname string
	cmd      *exec.Cmd
	in       io.WriteCloser
	out      io.ReadCloser
	er       io.ReadCloser
}

//nolint:gochecknoglobals // test infra flag
var runnerCMD = flag.String(
	"fixture-runner", "",
	"the path to the fixture runner command",
)

// TestMain starts the runner, waits for the fixture,
// runs the ReadyCallback if set, then executes the test
// suite. On completion it signals the runner to tear the
// fixture down.
// When no -fixture-runner flag is given the suite runs
// without a fixture; tests can detect that through an
// empty Hostname and skip themselves.
func (s *Setup) TestMain(m *testing.M) {
	wg := new(sync.WaitGroup)
	wg.Add(2) //nolint:mnd // stdout + stderr

	os.Exit(func() int {
		flag.Parse()

		if *runnerCMD == "" {
			log.Print(
				"no -fixture-runner given," +
					" running without fixture",
			)

			return m.Run()
		}

		defer func() {
			// Closing stdin signals the runner to tear
			// down the fixture and exit.
			//nolint:errcheck,gosec // best-effort close
			s.in.Close()
			wg.Wait()

			if err := s.cmd.Wait(); err != nil {
				log.Fatal(err)
			}
		}()

		s.before(wg)

		if s.ReadyCallback != nil {
			if err := s.ReadyCallback(); err != nil {
				log.Fatal(err)
			}
		}

		return m.Run()
	}())
}

// Hostname returns the fixture pod IP reported by the
// runner.
func (s *Setup) Hostname() string {
	return s.hostname
}

// args builds the runner command line.
func (s *Setup) args() []string {
	args := []string{
		fmt.Sprintf("-type=%s", s.ServerType),
		fmt.Sprintf("-image=%s", s.Image),
	}

	for key, val := range s.Env {
		args = append(
			args,
			fmt.Sprintf("-env=%s=%s", key, val),
		)
	}

	for key, val := range s.Labels {
		args = append(
			args,
			fmt.Sprintf("-label=%s=%s", key, val),
		)
	}

	if s.TailLogs {
		args = append(args, "-tail")
	}

	return append(args, s.Command...)
}

func (s *Setup) before(wg *sync.WaitGroup) {
	log.Printf("fixture runner: %s\n", *runnerCMD)

	//nolint:gosec,noctx // test infra command from flag
	s.cmd = exec.Command(*runnerCMD, s.args()...)

	var err error

	// Open stderr pipe. StderrPipe is closed
	// automatically by Wait.
	if s.er, err = s.cmd.StderrPipe(); err != nil {
		log.Fatal(
			fmt.Errorf(
				"unable to read runner STDERR: %w",
				err,
			),
		)
	}

	go func() {
		rd := bufio.NewReader(s.er)

		for {
			str, readErr := rd.ReadString('\n')
			if readErr == io.EOF {
				break
			}

			if readErr != nil {
				log.Fatal(readErr)
			}

			log.Print(str)
		}

		wg.Done()
	}()

	if s.out, err = s.cmd.StdoutPipe(); err != nil {
		log.Fatal(err)
	}

	if s.in, err = s.cmd.StdinPipe(); err != nil {
		log.Fatal(err)
	}

	if err = s.cmd.Start(); err != nil {
		log.Fatal(err)
	}

	rd := bufio.NewReader(s.out)

	for {
		str, readErr := rd.ReadString('\n')
		if readErr != nil {
			log.Fatal(
				"unable to read from runner stdout",
			)
		}

		fmt.Print(str)

		if strings.HasPrefix(str, "RUNNING ") {
			s.hostname = strings.TrimSpace(str[8:])

			break
		}
	}

	go func() {
		for {
			str, readErr := rd.ReadString('\n')
			if readErr == io.EOF {
				break
			}

			if readErr != nil {
				log.Fatal(readErr)
			}

			log.Print(str)
		}

		wg.Done()
	}()
}
