package k8s

import (
	"context"
	"fmt"
	"log/slog"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

// Cleanup deletes every fixture pod carrying the given
// session id label. It is a best-effort sweep for pods
// leaked by crashed test runs: individual delete failures
// are logged, only the listing itself can fail.
func Cleanup(
	ctx context.Context,
	client kubernetes.Interface,
	namespace string,
	sessionID string,
) error {
	const errCtx = "cleaning up session pods"

	selector := labels.Set{
		LabelFixture:   LabelFixtureValue,
		LabelSessionID: sessionID,
	}.String()

	list, err := client.CoreV1().
		Pods(namespace).
		List(ctx, metav1.ListOptions{
			LabelSelector: selector,
		})
	if err != nil {
		return fmt.Errorf(
			"%s: listing pods: %w", errCtx, err,
		)
	}

	grace := teardownGracePeriod

	for _, pod := range list.Items {
		err := client.CoreV1().
			Pods(namespace).
			Delete(ctx, pod.Name, metav1.DeleteOptions{
				GracePeriodSeconds: &grace,
			})
		if err != nil && !apierrors.IsNotFound(err) {
			slog.Error(
				"unable to delete leaked fixture pod",
				"namespace", namespace,
				"pod", pod.Name,
				"error", err,
			)

			continue
		}

		slog.Info(
			"deleted leaked fixture pod",
			"namespace", namespace,
			"pod", pod.Name,
		)
	}

	return nil
}
