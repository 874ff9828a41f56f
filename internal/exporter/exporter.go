// Package exporter dumps a contest, everything reachable from it and the
// blobs it references into a self-contained archive.
//
// Export runs in two passes. The first walks the ownership graph from the
// contest and gives every entity a surrogate id (the contest is "0"); the
// second emits each entity's columns and rewrites its references, owned
// or not, to surrogate ids. Database ids never leave the process.
package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/filestore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type Options struct {
	SkipSubmissions bool
	SkipUserTests   bool
	// Light leaves executables and testcase data out of the blob set.
	Light bool
}

// Object is one exported entity.
type Object struct {
	Class   string         `json:"class"`
	Columns map[string]any `json:"columns"`
	Refs    map[string]any `json:"refs"`
}

// Dump is a contest flattened into surrogate-keyed objects.
type Dump struct {
	Objects map[string]Object
	// Files lists the referenced blob digests, sorted.
	Files []string
}

type Exporter struct {
	db    *gorm.DB
	files *filestore.FileStore
	log   *slog.Logger
}

func New(db *gorm.DB, files *filestore.FileStore, log *slog.Logger) *Exporter {
	return &Exporter{db: db, files: files, log: log}
}

// Dump loads the contest and flattens it.
func (e *Exporter) Dump(ctx context.Context, contestID int64, opts Options) (*Dump, error) {
	contest, err := e.load(ctx, contestID, opts)
	if err != nil {
		return nil, err
	}

	a := newArena(opts)
	a.walk(contest)

	dump := &Dump{Objects: make(map[string]Object, len(a.queue))}
	for _, obj := range a.queue {
		o, err := a.emit(obj)
		if err != nil {
			return nil, err
		}
		dump.Objects[a.ids[keyOf(obj)]] = o
	}
	dump.Files = a.blobs.ToSlice()
	slices.Sort(dump.Files)

	e.log.Info("contest flattened",
		"contest_id", contestID,
		"objects", len(dump.Objects),
		"files", len(dump.Files))
	return dump, nil
}

func (e *Exporter) load(ctx context.Context, contestID int64, opts Options) (*database.Contest, error) {
	q := e.db.WithContext(ctx).
		Preload("Tasks", order("num")).
		Preload("Tasks.Statements", order("language")).
		Preload("Tasks.Attachments", order("filename")).
		Preload("Tasks.SubmissionFormat", order("num")).
		Preload("Tasks.Datasets", order("version")).
		Preload("Tasks.Datasets.Testcases", order("num")).
		Preload("Tasks.Datasets.Managers", order("filename")).
		Preload("Users", order("username")).
		Preload("Users.Messages", order("timestamp, id"))
	if !opts.SkipSubmissions {
		q = q.Preload("Users.Submissions", order("timestamp, id")).
			Preload("Users.Submissions.Files", order("filename")).
			Preload("Users.Submissions.Token").
			Preload("Users.Submissions.Results", order("dataset_id")).
			Preload("Users.Submissions.Results.Executables", order("filename")).
			Preload("Users.Submissions.Results.Evaluations", order("num"))
	}
	if !opts.SkipUserTests {
		q = q.Preload("Users.UserTests", order("timestamp, id")).
			Preload("Users.UserTests.Files", order("filename")).
			Preload("Users.UserTests.Managers", order("filename")).
			Preload("Users.UserTests.Results", order("dataset_id")).
			Preload("Users.UserTests.Results.Executables", order("filename"))
	}

	var contest database.Contest
	if err := q.First(&contest, contestID).Error; err != nil {
		return nil, database.Classify(fmt.Errorf("failed to load contest %d: %w", contestID, err))
	}
	return &contest, nil
}

func order(columns string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB { return db.Order(columns) }
}

type key struct {
	class string
	id    int64
}

func keyOf(obj any) key {
	v := reflect.Indirect(reflect.ValueOf(obj))
	return key{class: v.Type().Name(), id: v.FieldByName("ID").Int()}
}

// arena owns the surrogate id assignment of one export.
type arena struct {
	opts  Options
	ids   map[key]string
	queue []any
	blobs mapset.Set[string]
}

func newArena(opts Options) *arena {
	return &arena{
		opts:  opts,
		ids:   make(map[key]string),
		blobs: mapset.NewThreadUnsafeSet[string](),
	}
}

func (a *arena) add(obj any) {
	k := keyOf(obj)
	if _, ok := a.ids[k]; ok {
		return
	}
	a.ids[k] = strconv.Itoa(len(a.ids))
	a.queue = append(a.queue, obj)
}

// walk assigns ids breadth first along ownership edges.
func (a *arena) walk(root any) {
	a.add(root)
	for i := 0; i < len(a.queue); i++ {
		obj := a.queue[i]
		a.collectBlobs(obj)
		owned := a.links(obj).owned
		for _, name := range sortedNames(owned) {
			for _, child := range owned[name] {
				a.add(child)
			}
		}
	}
}

func (a *arena) emit(obj any) (Object, error) {
	k := keyOf(obj)
	cols, err := columns(obj)
	if err != nil {
		return Object{}, err
	}

	l := a.links(obj)
	refs := make(map[string]any, len(l.owned)+len(l.refs))
	for name, children := range l.owned {
		ids := make([]string, 0, len(children))
		for _, child := range children {
			ids = append(ids, a.ids[keyOf(child)])
		}
		refs[name] = ids
	}
	for name, target := range l.refs {
		if target == nil {
			refs[name] = nil
			continue
		}
		id, ok := a.ids[*target]
		if !ok {
			return Object{}, fmt.Errorf("%s %d references %s %d outside the export",
				k.class, k.id, target.class, target.id)
		}
		refs[name] = id
	}
	return Object{Class: k.class, Columns: cols, Refs: refs}, nil
}

type links struct {
	owned map[string][]any
	refs  map[string]*key
}

func ptrs[T any](s []T) []any {
	res := make([]any, len(s))
	for i := range s {
		res[i] = &s[i]
	}
	return res
}

func (a *arena) links(obj any) links {
	l := links{owned: map[string][]any{}, refs: map[string]*key{}}
	switch o := obj.(type) {
	case *database.Contest:
		l.owned["tasks"] = ptrs(o.Tasks)
		l.owned["users"] = ptrs(o.Users)
	case *database.Task:
		l.owned["statements"] = ptrs(o.Statements)
		l.owned["attachments"] = ptrs(o.Attachments)
		l.owned["submission_format"] = ptrs(o.SubmissionFormat)
		l.owned["datasets"] = ptrs(o.Datasets)
		l.refs["active_dataset"] = nil
		if o.ActiveDatasetID != nil {
			l.refs["active_dataset"] = &key{"Dataset", *o.ActiveDatasetID}
		}
	case *database.Dataset:
		l.owned["testcases"] = ptrs(o.Testcases)
		l.owned["managers"] = ptrs(o.Managers)
	case *database.User:
		l.owned["messages"] = ptrs(o.Messages)
		if !a.opts.SkipSubmissions {
			l.owned["submissions"] = ptrs(o.Submissions)
		}
		if !a.opts.SkipUserTests {
			l.owned["user_tests"] = ptrs(o.UserTests)
		}
	case *database.Submission:
		l.owned["files"] = ptrs(o.Files)
		l.owned["results"] = ptrs(o.Results)
		l.owned["token"] = nil
		if o.Token != nil {
			l.owned["token"] = []any{o.Token}
		}
		l.refs["task"] = &key{"Task", o.TaskID}
	case *database.SubmissionResult:
		l.owned["executables"] = ptrs(o.Executables)
		l.owned["evaluations"] = ptrs(o.Evaluations)
		l.refs["dataset"] = &key{"Dataset", o.DatasetID}
	case *database.UserTest:
		l.owned["files"] = ptrs(o.Files)
		l.owned["managers"] = ptrs(o.Managers)
		l.owned["results"] = ptrs(o.Results)
		l.refs["task"] = &key{"Task", o.TaskID}
	case *database.UserTestResult:
		l.owned["executables"] = ptrs(o.Executables)
		l.refs["dataset"] = &key{"Dataset", o.DatasetID}
	}
	return l
}

func (a *arena) collectBlobs(obj any) {
	switch o := obj.(type) {
	case *database.Statement:
		a.blobs.Add(o.Digest)
	case *database.Attachment:
		a.blobs.Add(o.Digest)
	case *database.Manager:
		a.blobs.Add(o.Digest)
	case *database.Testcase:
		if !a.opts.Light {
			a.blobs.Add(o.Input)
			a.blobs.Add(o.Output)
		}
	case *database.File:
		a.blobs.Add(o.Digest)
	case *database.Executable:
		if !a.opts.Light {
			a.blobs.Add(o.Digest)
		}
	case *database.UserTest:
		a.blobs.Add(o.Input)
	case *database.UserTestFile:
		a.blobs.Add(o.Digest)
	case *database.UserTestManager:
		a.blobs.Add(o.Digest)
	case *database.UserTestResult:
		if o.Output != nil {
			a.blobs.Add(*o.Output)
		}
	case *database.UserTestExecutable:
		if !a.opts.Light {
			a.blobs.Add(o.Digest)
		}
	}
}

func sortedNames(m map[string][]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var schemas sync.Map

// columns returns the plain column values of a model. Ids and foreign
// keys are left out; they travel as refs.
func columns(obj any) (map[string]any, error) {
	sch, err := schema.Parse(obj, &schemas, schema.NamingStrategy{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema of %T: %w", obj, err)
	}
	rv := reflect.Indirect(reflect.ValueOf(obj))
	cols := make(map[string]any, len(sch.Fields))
	for _, f := range sch.Fields {
		if f.DBName == "" || f.PrimaryKey || isIDColumn(f.DBName) {
			continue
		}
		v, _ := f.ValueOf(context.Background(), rv)
		cols[f.DBName] = columnValue(v)
	}
	return cols, nil
}

func isIDColumn(name string) bool {
	return strings.HasSuffix(name, "_id")
}

// columnValue maps a column onto JSON: times become unix seconds and
// durations seconds.
func columnValue(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		v = rv.Elem().Interface()
	}
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return float64(x.UnixNano()) / float64(time.Second)
	case time.Duration:
		return x.Seconds()
	case datatypes.JSON:
		if len(x) == 0 {
			return nil
		}
		return json.RawMessage(x)
	case database.JSON:
		if len(x) == 0 {
			return nil
		}
		return json.RawMessage(x)
	default:
		return x
	}
}
