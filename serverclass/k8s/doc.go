// Package k8s implements the Kubernetes server class: it launches a test
// workload as a single pod in the target namespace, polls with bounded
// exponential backoff until the pod is running, exposes the pod IP for
// connecting test code, and deletes the pod on teardown, polling until the
// cluster confirms it is gone.
package k8s
