package k8s

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// NewClient builds a clientset from the in-cluster
// service-account credentials. The returned client is
// meant to be shared across every Server of a test run.
func NewClient() (*kubernetes.Clientset, error) {
	const errCtx = "creating in-cluster client"

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return client, nil
}
