package k8s

import (
	"context"
	"fmt"
	"io"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesHelper wraps the Kubernetes client-go client and exposes the few
// calls the command runner needs.
type KubernetesHelper struct {
	clientset kubernetes.Interface
}

const userAgent = "model-forge"

// restConfig prefers the in-cluster service account and falls back to
// KUBECONFIG or ~/.kube/config outside a cluster.
func restConfig() (*rest.Config, error) {
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

func NewKubernetesHelper() (*KubernetesHelper, error) {
	config, err := restConfig()
	if err != nil {
		return nil, fmt.Errorf("no kubernetes configuration found: %w", err)
	}
	config.UserAgent = userAgent
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	return &KubernetesHelper{clientset: clientset}, nil
}

func (h *KubernetesHelper) CreateJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	return h.clientset.BatchV1().Jobs(job.Namespace).Create(ctx, job, metav1.CreateOptions{})
}

func (h *KubernetesHelper) GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error) {
	return h.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
}

func (h *KubernetesHelper) DeleteJob(ctx context.Context, namespace, name string) error {
	propagationPolicy := metav1.DeletePropagationBackground
	return h.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagationPolicy})
}

// ListJobPods returns the pods created for the job, the job controller labels
// them with the job name.
func (h *KubernetesHelper) ListJobPods(ctx context.Context, namespace, jobName string) ([]corev1.Pod, error) {
	pods, err := h.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", labelJobNameKey, jobName),
	})
	if err != nil {
		return nil, err
	}
	return pods.Items, nil
}

func (h *KubernetesHelper) GetPodLogs(ctx context.Context, namespace, podName, container string) ([]byte, error) {
	stream, err := h.clientset.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{Container: container}).Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}
