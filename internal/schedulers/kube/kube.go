// -----------------------------------------------------------------------
// Kube scheduler - Runs jobs as Kubernetes batch workloads
// -----------------------------------------------------------------------

package kube

import (
	"context"
	"fmt"
	"strconv"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
)

// Workload knobs shared by every submitted job.
const (
	ttlSecondsAfterFinished = int32(60)
	backoffLimit            = int32(0)
	podFSGroup              = int64(1000)
)

// Scheduler submits jobs as one-container batchv1 Jobs. The container image
// is looked up per application; job outputs land on the rclone-mounted
// remote storage, so the pod needs fuse and SYS_ADMIN.
type Scheduler struct {
	client kubernetes.Interface
	cfg    *common.KubeSchedulerConfig
	logger arbor.ILogger
}

// New builds a scheduler from in-cluster config or a kubeconfig path.
func New(cfg *common.KubeSchedulerConfig, logger arbor.ILogger) (*Scheduler, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if cfg.InCluster {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.ConfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kube client config: %w", err)
	}
	if cfg.CertPath != "" {
		restCfg.TLSClientConfig.CertFile = cfg.CertPath
		restCfg.TLSClientConfig.KeyFile = cfg.KeyPath
		restCfg.TLSClientConfig.CAFile = cfg.CAPath
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kube client: %w", err)
	}

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing clientset.
func NewWithClient(client kubernetes.Interface, cfg *common.KubeSchedulerConfig, logger arbor.ILogger) *Scheduler {
	return &Scheduler{client: client, cfg: cfg, logger: logger}
}

func (s *Scheduler) Kind() string { return schedulers.KindKube }

func (s *Scheduler) Submit(ctx context.Context, spec *schedulers.Spec) (*schedulers.Submission, error) {
	image, ok := s.cfg.AppImages[spec.App]
	if !ok || image == "" {
		return nil, fmt.Errorf("no container image configured for app %s", spec.App)
	}
	if spec.ArgString == "" {
		return nil, fmt.Errorf("empty job options")
	}

	job := s.buildJob(spec, image)

	created, err := s.client.BatchV1().Jobs(s.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kube job: %w", err)
	}

	s.logger.Info().
		Str("job_id", spec.JobID).
		Str("kube_job", created.Name).
		Str("image", image).
		Msg("Kube job submitted")

	return &schedulers.Submission{
		JobID:      spec.JobID,
		Pid:        created.Name,
		SubmitDate: time.Now().UTC(),
		State:      models.JobStatePending,
	}, nil
}

// buildJob assembles the batch workload: one privileged container with the
// rclone secret and /dev/fuse mounted, never restarted, cleaned up by TTL.
func (s *Scheduler) buildJob(spec *schedulers.Spec, image string) *batchv1.Job {
	mountWait := s.cfg.MountWaitTime
	if mountWait <= 0 {
		mountWait = 10
	}

	env := []corev1.EnvVar{
		{Name: "JOB_OPTIONS", Value: spec.ArgString},
		{Name: "MOUNT_RCLONE_VOLUME", Value: "1"},
		{Name: "RCLONE_REMOTE_STORAGE", Value: s.cfg.RemoteStorageName},
		{Name: "RCLONE_REMOTE_STORAGE_PATH", Value: s.cfg.RemoteStoragePath},
		{Name: "MOUNT_VOLUME_PATH", Value: s.cfg.MountPath},
		{Name: "RCLONE_MOUNT_WAIT_TIME", Value: strconv.Itoa(mountWait)},
	}

	privileged := true
	ttl := ttlSecondsAfterFinished
	backoff := backoffLimit
	fsGroup := podFSGroup

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.JobID,
			Labels: map[string]string{"app": "caelum-job", "caelum-app": spec.App},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					SecurityContext: &corev1.PodSecurityContext{
						FSGroup: &fsGroup,
					},
					Containers: []corev1.Container{
						{
							Name:            spec.App,
							Image:           image,
							ImagePullPolicy: corev1.PullAlways,
							Env:             env,
							SecurityContext: &corev1.SecurityContext{
								Privileged: &privileged,
								Capabilities: &corev1.Capabilities{
									Add: []corev1.Capability{"SYS_ADMIN"},
								},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "rclone-secret", MountPath: "/root/.config/rclone/"},
								{Name: "fuse", MountPath: "/dev/fuse"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "rclone-secret",
							VolumeSource: corev1.VolumeSource{
								Secret: &corev1.SecretVolumeSource{SecretName: s.cfg.RcloneSecret},
							},
						},
						{
							Name: "fuse",
							VolumeSource: corev1.VolumeSource{
								HostPath: &corev1.HostPathVolumeSource{Path: "/dev/fuse"},
							},
						},
					},
				},
			},
		},
	}
}

func (s *Scheduler) Status(ctx context.Context, pid string) (*models.StatusUpdate, error) {
	job, err := s.client.BatchV1().Jobs(s.cfg.Namespace).Get(ctx, pid, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, schedulers.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get kube job: %w", err)
	}
	return mapJobStatus(pid, &job.Status), nil
}

// mapJobStatus folds the batch counters into the common taxonomy.
func mapJobStatus(pid string, status *batchv1.JobStatus) *models.StatusUpdate {
	reply := &models.StatusUpdate{
		Pid:      pid,
		ExitCode: models.ExitCodeUnknown,
	}

	switch {
	case status.Succeeded >= 1:
		reply.State = models.JobStateSuccess
		reply.Status = "Job completed with success"
		if status.StartTime != nil && status.CompletionTime != nil {
			reply.ElapsedTime = status.CompletionTime.Sub(status.StartTime.Time).Seconds()
		}
	case status.Failed >= 1:
		reply.State = models.JobStateFailure
		errmsg := ""
		if len(status.Conditions) > 0 {
			errmsg = status.Conditions[0].Message
		}
		reply.Status = fmt.Sprintf("Job failed (err=%s)", errmsg)
	case status.Active >= 1:
		reply.State = models.JobStateRunning
		reply.Status = "Job pod is running"
	default:
		reply.State = models.JobStatePending
		reply.Status = "Job present in cluster but pod not yet running"
	}

	return reply
}

func (s *Scheduler) StatusBatch(ctx context.Context, pids []string) (map[string]*models.StatusUpdate, error) {
	return schedulers.StatusBatchFallback(ctx, s, pids)
}

// Cancel deletes the workload. Deleting an already-gone job is fine.
func (s *Scheduler) Cancel(ctx context.Context, pid string) error {
	if err := s.Delete(ctx, pid); err != nil {
		return err
	}
	return nil
}

// Delete removes the workload and its pods asynchronously. Used both for
// cancellation and for post-terminal cleanup by the reconciler.
func (s *Scheduler) Delete(ctx context.Context, pid string) error {
	policy := metav1.DeletePropagationBackground
	grace := int64(0)
	err := s.client.BatchV1().Jobs(s.cfg.Namespace).Delete(ctx, pid, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
		PropagationPolicy:  &policy,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete kube job: %w", err)
	}
	return nil
}
