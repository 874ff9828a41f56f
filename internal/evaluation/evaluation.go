// Package evaluation decides which jobs still have to run and records what
// workers report back.
package evaluation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/programme-lv/evalcore/api"
	"github.com/programme-lv/evalcore/internal/dispatch"
	"github.com/programme-lv/evalcore/internal/job"
	"github.com/programme-lv/evalcore/internal/rpc"
	"github.com/puzpuzpuz/xsync/v3"
	"gorm.io/gorm"
)

// MaxTries bounds how often a compilation or evaluation is attempted
// before the result is left for an administrator.
const MaxTries = 3

// DefaultJobTimeout is how long a dispatched job may go unanswered before
// a sweep sends it again.
const DefaultJobTimeout = 10 * time.Minute

var (
	// ErrDatasetGone means the result a job was for no longer exists,
	// usually because its dataset was deleted while the job ran.
	ErrDatasetGone = errors.New("result no longer exists")
	// ErrStale means the result moved on since the job was dispatched.
	ErrStale = errors.New("result changed since the job was dispatched")
)

// Permanent reports whether redelivering the same job result can never
// succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrDatasetGone) || errors.Is(err, ErrStale)
}

type Service struct {
	db         *gorm.DB
	dispatcher dispatch.Dispatcher
	notifier   rpc.Notifier
	log        *slog.Logger

	// inflight holds the jobs dispatched and not yet answered.
	inflight   *xsync.MapOf[string, dispatched]
	jobTimeout time.Duration
}

type dispatched struct {
	datasetID int64
	at        time.Time
}

func NewService(db *gorm.DB, dispatcher dispatch.Dispatcher, notifier rpc.Notifier, log *slog.Logger) *Service {
	return &Service{
		db:         db,
		dispatcher: dispatcher,
		notifier:   notifier,
		log:        log.With("service", "evaluation"),
		inflight:   xsync.NewMapOf[string, dispatched](),
		jobTimeout: DefaultJobTimeout,
	}
}

// SetJobTimeout changes how long a job may stay unanswered. With a zero
// timeout every sweep dispatches unfinished jobs again.
func (s *Service) SetJobTimeout(d time.Duration) {
	s.jobTimeout = d
}

func inflightKey(object api.ObjectKind, objectID, datasetID int64, kind job.Kind) string {
	return fmt.Sprintf("%s/%d/%d/%s", object, objectID, datasetID, kind)
}

// Pending reports how many dispatched jobs are awaiting a result.
func (s *Service) Pending() int {
	return s.inflight.Size()
}
