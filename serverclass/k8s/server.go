package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"github.com/byte4ever/server_fixtures/config"
	"github.com/byte4ever/server_fixtures/serverclass"
)

// System label keys stamped on every fixture pod. Callers
// cannot override them.
const (
	LabelFixture    = "server-fixtures"
	LabelServerType = "server-fixtures/server-type"
	LabelSessionID  = "server-fixtures/session-id"

	// LabelFixtureValue is the value of LabelFixture.
	LabelFixtureValue = "kubernetes-server-fixtures"

	// ContainerName is the single workload container
	// name inside every fixture pod.
	ContainerName = "fixture"
)

// teardownGracePeriod is near-immediate: fixtures are
// throwaway workloads, graceful shutdown is not worth
// the wait.
const teardownGracePeriod = int64(1)

// DefaultBackoff is the retry policy for both polling
// phases: 28 attempts, delays 1s, 2s, 4s, 8s then capped
// at 10s per attempt.
func DefaultBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: time.Second,
		Factor:   2,
		Cap:      10 * time.Second,
		Steps:    28,
	}
}

// Options describes the workload a Server manages.
type Options struct {
	// ServerType tags the workload kind, e.g. "redis".
	ServerType string

	// GetCmd produces the command to run inside the
	// container. This class bakes the command into the
	// pod spec, so New calls it exactly once.
	GetCmd serverclass.GetCmd

	// Env is injected as container environment
	// variables.
	Env map[string]string

	// Image is the container image reference.
	Image string

	// Labels are optional caller labels for the pod.
	Labels map[string]string
}

// Server owns the lifecycle of exactly one fixture pod.
// The Kubernetes client is shared, not owned; its
// lifetime belongs to the caller. A Server must not be
// relaunched after teardown.
type Server struct {
	serverclass.Base

	// Backoff is the polling retry policy. Defaults to
	// DefaultBackoff.
	Backoff wait.Backoff

	client    kubernetes.Interface
	namespace string
	image     string
	runCmd    []string
	labels    map[string]string
}

var _ serverclass.Server = (*Server)(nil)

// New builds a Server from resolved configuration, a
// shared cluster client, and workload options. It fails
// before any API call when the process is not running
// inside a cluster.
func New(
	cfg *config.Config,
	client kubernetes.Interface,
	opts Options,
) (*Server, error) {
	const errCtx = "creating kubernetes server fixture"

	if !cfg.InCluster {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, serverclass.ErrNotInCluster,
		)
	}

	base := serverclass.NewBase(
		opts.ServerType, opts.GetCmd, opts.Env,
	)

	runCmd := serverclass.ExpandArgs(
		opts.GetCmd(),
		map[string]interface{}{
			"name":       base.Name,
			"namespace":  cfg.Namespace,
			"session_id": cfg.SessionID,
		},
	)

	callerLabels := serverclass.MergeLabels(
		cfg.Labels, opts.Labels,
	)

	return &Server{
		Base:      base,
		Backoff:   DefaultBackoff(),
		client:    client,
		namespace: cfg.Namespace,
		image:     opts.Image,
		runCmd:    runCmd,
		labels: serverclass.MergeLabels(
			callerLabels,
			map[string]string{
				LabelFixture:    LabelFixtureValue,
				LabelServerType: opts.ServerType,
				LabelSessionID:  cfg.SessionID,
			},
		),
	}, nil
}

// Launch creates the fixture pod and blocks until its
// phase is Running. Creation errors are returned
// immediately; only the status poll is retried.
func (s *Server) Launch(ctx context.Context) error {
	const errCtx = "launching fixture pod"

	slog.Debug(
		"launching pod",
		"namespace", s.namespace,
		"pod", s.Name,
	)

	if err := s.createPod(ctx); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := s.waitUntilRunning(ctx); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Debug(
		"pod is running",
		"namespace", s.namespace,
		"pod", s.Name,
	)

	return nil
}

// Run is a no-op: the pod starts its workload as soon as
// it is scheduled. Kept to satisfy the Server contract.
func (s *Server) Run(_ context.Context) error {
	return nil
}

// Teardown deletes the fixture pod with a near-immediate
// grace period and blocks until the cluster reports it
// absent. Delete failures are logged, not returned; the
// absence poll still runs so leaked pods are detected.
func (s *Server) Teardown(ctx context.Context) error {
	const errCtx = "tearing down fixture pod"

	s.deletePod(ctx)

	if err := s.waitUntilTerminated(ctx); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Hostname returns the pod IP assigned to the running
// fixture. It fails wrapping ErrNotRunning when the pod
// is in any other phase.
func (s *Server) Hostname(
	ctx context.Context,
) (string, error) {
	const errCtx = "resolving fixture hostname"

	status, err := s.podStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if status.Phase != corev1.PodRunning {
		return "", fmt.Errorf(
			"%s: phase is %s: %w",
			errCtx, status.Phase,
			serverclass.ErrNotRunning,
		)
	}

	return status.PodIP, nil
}

// Namespace returns the namespace the fixture pod lives
// in.
func (s *Server) Namespace() string {
	return s.namespace
}

// Labels returns the merged label set stamped on the
// fixture pod.
func (s *Server) Labels() map[string]string {
	return s.labels
}

func (s *Server) buildPod() *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   s.Name,
			Labels: s.labels,
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{
					Name:    ContainerName,
					Image:   s.image,
					Command: s.runCmd,
					Env:     s.buildEnv(),
				},
			},
		},
	}
}

// buildEnv converts the env map to container env vars in
// deterministic order.
func (s *Server) buildEnv() []corev1.EnvVar {
	if len(s.Env) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.Env))
	for key := range s.Env {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	envVars := make([]corev1.EnvVar, 0, len(keys))
	for _, key := range keys {
		envVars = append(envVars, corev1.EnvVar{
			Name:  key,
			Value: s.Env[key],
		})
	}

	return envVars
}

func (s *Server) createPod(ctx context.Context) error {
	_, err := s.client.CoreV1().
		Pods(s.namespace).
		Create(ctx, s.buildPod(), metav1.CreateOptions{})
	if err != nil {
		slog.Error(
			"failed to create pod",
			"namespace", s.namespace,
			"pod", s.Name,
			"error", err,
		)

		return fmt.Errorf("creating pod: %w", err)
	}

	return nil
}

func (s *Server) deletePod(ctx context.Context) {
	grace := teardownGracePeriod

	err := s.client.CoreV1().
		Pods(s.namespace).
		Delete(ctx, s.Name, metav1.DeleteOptions{
			GracePeriodSeconds: &grace,
		})
	if err != nil {
		// Best-effort: the absence poll decides whether
		// teardown actually failed.
		slog.Error(
			"failed to delete pod",
			"namespace", s.namespace,
			"pod", s.Name,
			"error", err,
		)
	}
}

// podStatus fetches the live pod status. It is never
// cached across polling attempts.
func (s *Server) podStatus(
	ctx context.Context,
) (*corev1.PodStatus, error) {
	pod, err := s.client.CoreV1().
		Pods(s.namespace).
		Get(ctx, s.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf(
			"reading pod status: %w", err,
		)
	}

	return &pod.Status, nil
}

// waitUntilRunning polls until the pod phase is Running.
// Any other phase, and any status fetch failure, counts
// as "not running yet" and triggers another attempt.
func (s *Server) waitUntilRunning(
	ctx context.Context,
) error {
	var lastStatus *corev1.PodStatus

	err := pollUntil(
		ctx, s.Backoff,
		func(ctx context.Context) (bool, error) {
			status, err := s.podStatus(ctx)
			if err != nil {
				slog.Debug(
					"status fetch failed, retrying",
					"pod", s.Name,
					"error", err,
				)

				return false, nil
			}

			lastStatus = status

			slog.Debug(
				"waiting for pod phase 'Running'",
				"pod", s.Name,
				"current", status.Phase,
			)

			return status.Phase == corev1.PodRunning, nil
		},
	)
	if errors.Is(err, errRetriesExhausted) {
		s.logLaunchDiagnostics(lastStatus)

		return serverclass.ErrNotRunning
	}

	return err
}

// waitUntilTerminated polls until the status fetch
// reports NotFound. A pod that still exists triggers
// another attempt; any other API error propagates
// immediately since retrying cannot fix it.
func (s *Server) waitUntilTerminated(
	ctx context.Context,
) error {
	err := pollUntil(
		ctx, s.Backoff,
		func(ctx context.Context) (bool, error) {
			_, err := s.podStatus(ctx)
			if apierrors.IsNotFound(err) {
				return true, nil
			}

			if err != nil {
				return false, err
			}

			slog.Debug(
				"waiting for pod to terminate",
				"pod", s.Name,
			)

			return false, nil
		},
	)
	if errors.Is(err, errRetriesExhausted) {
		return serverclass.ErrNotTerminated
	}

	return err
}

// logLaunchDiagnostics dumps the last status observed by
// the launch wait when it exhausts its retries. No extra
// API call happens here.
func (s *Server) logLaunchDiagnostics(
	status *corev1.PodStatus,
) {
	if status == nil {
		slog.Error(
			"pod never reached 'Running'",
			"namespace", s.namespace,
			"pod", s.Name,
		)

		return
	}

	dump, err := json.Marshal(status)
	if err != nil {
		dump = []byte(fmt.Sprintf("%+v", status))
	}

	slog.Error(
		"pod never reached 'Running'",
		"namespace", s.namespace,
		"pod", s.Name,
		"status", string(dump),
	)
}
