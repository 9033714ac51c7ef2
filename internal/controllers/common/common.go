package common

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/opdev/subreconciler"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/policy"
	"github.com/snapp-incubator/s3-manager/internal/secrets"
)

// Recorder counts the corrective calls reconcilers make.
type Recorder interface {
	ObserveAction(kind, action string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAction(string, string) {}

// Dependencies is everything a reconciler is built from. They are constructed once per run and
// shared by all reconcilers.
type Dependencies struct {
	Client   adminclient.Client
	Backend  secrets.Backend
	Identity *ControllerIdentity
	Template *policy.Template
	Reporter *apierror.Reporter
	Recorder Recorder
	Logger   logr.Logger
}

// ActionRecorder returns the configured recorder or one that drops everything.
func (d Dependencies) ActionRecorder() Recorder {
	if d.Recorder == nil {
		return nopRecorder{}
	}
	return d.Recorder
}

// RunSteps runs subrecs in order and stops at the first one asking to halt.
// The returned error is the one that step propagated, if any.
func RunSteps(ctx context.Context, subrecs []subreconciler.Fn) error {
	for _, subrec := range subrecs {
		result, err := subrec(ctx)
		if subreconciler.ShouldHaltOrRequeue(result, err) {
			return err
		}
	}
	return nil
}

// Halt stops the chain of the current resource. A propagated error is handed back to the caller.
func Halt(propagated error) (*ctrl.Result, error) {
	if propagated != nil {
		return subreconciler.RequeueWithError(propagated)
	}
	return subreconciler.DoNotRequeue()
}

// Continue moves on to the next step unless the error has to be propagated.
func Continue(propagated error) (*ctrl.Result, error) {
	if propagated != nil {
		return subreconciler.RequeueWithError(propagated)
	}
	return subreconciler.ContinueReconciling()
}
