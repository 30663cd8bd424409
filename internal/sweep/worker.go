package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/config"
)

// ScheduleID identifies the recurring sweep schedule.
const ScheduleID = "refdata-discovery-sweep"

// Registry is the registration surface shared by workers and the test
// environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the sweep workflow and activities to r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(DiscoverySweepWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.ListReferenceFacets, activity.RegisterOptions{Name: ActivityListFacets})
	r.RegisterActivityWithOptions(acts.Discover, activity.RegisterOptions{Name: ActivityDiscover})
	r.RegisterActivityWithOptions(acts.SaveSuggestions, activity.RegisterOptions{Name: ActivitySaveSuggestions})
}

// NewWorker builds a worker on taskQueue with the sweep registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     4,
		MaxConcurrentWorkflowTaskExecutionSize: 4,
	})
	Register(w, acts)
	return w
}

// Dial connects to the Temporal frontend described by cfg.
func Dial(ctx context.Context, cfg config.TemporalConfig) (client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.DialContext(dialCtx, client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sweep: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// Start launches a one-off sweep and returns its run.
func Start(ctx context.Context, c client.Client, taskQueue string, p Params) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "refdata-sweep-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, WorkflowName, p)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: start workflow")
	}
	return run, nil
}

// EnsureSchedule creates the recurring sweep schedule if it does not exist.
// A non-positive interval disables scheduling.
func EnsureSchedule(ctx context.Context, c client.Client, taskQueue string, interval time.Duration, p Params) error {
	if interval <= 0 {
		return nil
	}
	_, err := c.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "refdata-sweep-scheduled",
			Workflow:  WorkflowName,
			Args:      []interface{}{p},
			TaskQueue: taskQueue,
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		zap.L().Debug("sweep: schedule already exists", zap.String("schedule_id", ScheduleID))
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "sweep: create schedule")
	}
	zap.L().Info("sweep: schedule created", zap.String("schedule_id", ScheduleID), zap.Duration("every", interval))
	return nil
}
