// Package logtail follows the logs of a fixture pod's workload container
// while tests run, writing each line with a pod/container prefix. It is a
// single-pod cut of the stern approach: open a follow stream, copy lines
// until the stream ends or the context is cancelled.
package logtail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	corev1 "k8s.io/api/core/v1"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
)

// Tail streams the logs of one container inside one pod.
type Tail struct {
	Namespace     string
	PodName       string
	ContainerName string

	// Out receives the prefixed log lines.
	Out io.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTail returns a tail for the given container writing
// to out.
func NewTail(
	namespace, podName, containerName string,
	out io.Writer,
) *Tail {
	return &Tail{
		Namespace:     namespace,
		PodName:       podName,
		ContainerName: containerName,
		Out:           out,
		closed:        make(chan struct{}),
	}
}

// Start opens the follow stream and copies log lines in
// the background until the stream ends, Close is called,
// or ctx is cancelled.
func (t *Tail) Start(
	ctx context.Context,
	pods typedcorev1.PodInterface,
) {
	go func() {
		req := pods.GetLogs(
			t.PodName,
			&corev1.PodLogOptions{
				Follow:     true,
				Timestamps: true,
				Container:  t.ContainerName,
			},
		)

		stream, err := req.Stream(ctx)
		if err != nil {
			slog.Error(
				"error opening log stream",
				"namespace", t.Namespace,
				"pod", t.PodName,
				"container", t.ContainerName,
				"error", err,
			)

			return
		}

		//nolint:errcheck,gosec // best-effort close
		defer stream.Close()

		go func() {
			<-t.closed
			//nolint:errcheck,gosec // best-effort close
			stream.Close()
		}()

		reader := bufio.NewReader(stream)

		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				t.print(string(line))
			}

			if err != nil {
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		t.Close()
	}()
}

// Close stops tailing. Safe to call more than once.
func (t *Tail) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
}

// print writes one log line with the pod and container
// prefix.
func (t *Tail) print(msg string) {
	fmt.Fprintf(
		t.Out,
		"[%s/%s]: %s",
		t.PodName, t.ContainerName, msg,
	)
}
