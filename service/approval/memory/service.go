package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	approval "github.com/modal-labs/conveyor/service/approval"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/dao/store"
	"github.com/modal-labs/conveyor/service/messaging"
	qmem "github.com/modal-labs/conveyor/service/messaging/memory"
)

type service struct {
	// DAO-backed stores
	reqDAO dao.Service[string, approval.Request]
	decDAO dao.Service[string, approval.Decision]

	// fan-out queue
	events messaging.Queue[approval.Event]

	queueConfig qmem.Config
}

// key selectors grab the ID field
func reqKey(r *approval.Request) string  { return r.ID }
func decKey(d *approval.Decision) string { return d.ID }

// New returns an in-memory approval service.  Decisions are applied by the
// waiting executor, so no run DAO handle is needed here.
func New(options ...Option) approval.Service {
	ret := &service{
		reqDAO:      store.NewMemoryStore[string, approval.Request](reqKey),
		decDAO:      store.NewMemoryStore[string, approval.Decision](decKey),
		queueConfig: qmem.DefaultConfig(),
	}
	for _, option := range options {
		option(ret)
	}
	ret.events = qmem.NewQueue[approval.Event](ret.queueConfig)
	return ret
}

/* ---------------- DAO-style operations -------------------------------- */

func (s *service) RequestApproval(ctx context.Context, r *approval.Request) error {
	if r == nil {
		return errors.New("invalid request")
	}

	// Ensure the request has a globally unique identifier.  If the caller did
	// not specify one derive it from the run coordinates, which are unique
	// while the step is in flight.  This protects against silent drops caused
	// by empty IDs.
	if r.ID == "" {
		switch {
		case r.RunID != "" && r.Job != "":
			r.ID = fmt.Sprintf("%s/%s/%s", r.RunID, r.Job, r.Step)
		case r.RunID != "":
			r.ID = fmt.Sprintf("%s/%d", r.RunID, time.Now().UnixNano())
		default:
			r.ID = fmt.Sprintf("anon-%d", time.Now().UnixNano())
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	// Idempotent save; overwrite any previous copy to handle re-submissions
	// gracefully.
	topic := approval.TopicRequestCreated
	if prev, _ := s.reqDAO.Load(ctx, r.ID); prev != nil {
		topic = approval.TopicRequestUpdated
	}
	_ = s.reqDAO.Save(ctx, r)
	_ = s.events.Publish(ctx, &approval.Event{Topic: topic, Data: r})
	return nil
}

func (s *service) ListPending(ctx context.Context) ([]*approval.Request, error) {
	all, err := s.reqDAO.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]*approval.Request, 0, len(all))
	for _, r := range all {
		if d, _ := s.decDAO.Load(ctx, r.ID); d == nil {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (s *service) Decide(ctx context.Context, id string,
	ok bool, reason string) (*approval.Decision, error) {

	if id == "" {
		return nil, errors.New("empty id")
	}
	request, _ := s.reqDAO.Load(ctx, id)
	if request == nil {
		return nil, fmt.Errorf("request %s not found", id)
	}
	if d, _ := s.decDAO.Load(ctx, id); d != nil {
		return nil, fmt.Errorf("already decided")
	}

	d := &approval.Decision{
		ID:        id,
		Approved:  ok,
		Reason:    reason,
		DecidedAt: time.Now(),
	}
	_ = s.decDAO.Save(ctx, d)
	_ = s.events.Publish(ctx, &approval.Event{Topic: approval.TopicDecisionCreated, Data: d})
	return d, nil
}

func (s *service) Decision(ctx context.Context, id string) (*approval.Decision, error) {
	if id == "" {
		return nil, errors.New("empty id")
	}
	return s.decDAO.Load(ctx, id)
}

/* ---------------- Broker-style ---------------------------------------- */

func (s *service) Queue() messaging.Queue[approval.Event] { return s.events }

var _ approval.Service = (*service)(nil)
