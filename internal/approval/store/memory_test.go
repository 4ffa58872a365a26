package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ratedesk/internal/approval/models"
	id "ratedesk/pkg/domain"
	"ratedesk/pkg/platform/sentinel"
)

type WorkflowStoreSuite struct {
	suite.Suite
	workflows *WorkflowInMemory
	templates *TemplateInMemory
	ctx       context.Context
}

func (s *WorkflowStoreSuite) SetupTest() {
	s.workflows = NewWorkflowInMemory()
	s.templates = NewTemplateInMemory()
	s.ctx = context.Background()
}

func TestWorkflowStoreSuite(t *testing.T) {
	suite.Run(t, new(WorkflowStoreSuite))
}

var wfStoreBase = time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)

func (s *WorkflowStoreSuite) newWorkflow(timeoutHours int) *models.Workflow {
	tpl, err := models.NewWorkflowTemplate(id.NewClientID(), "sign-off", []models.StepTemplate{
		{Name: "Legal", ApproverRole: "legal", Required: true, TimeoutHours: timeoutHours},
	})
	s.Require().NoError(err)
	w, err := models.NewWorkflow(id.NewWorkflowID(), id.NewNegotiationID(), tpl, wfStoreBase)
	s.Require().NoError(err)
	return w
}

func (s *WorkflowStoreSuite) TestCreateAndFind() {
	s.Run("round trips by id and negotiation", func() {
		w := s.newWorkflow(24)
		s.Require().NoError(s.workflows.Create(s.ctx, w))

		byID, err := s.workflows.FindByID(s.ctx, w.ID)
		s.Require().NoError(err)
		s.Equal(w.NegotiationID, byID.NegotiationID)

		byNeg, err := s.workflows.FindByNegotiation(s.ctx, w.NegotiationID)
		s.Require().NoError(err)
		s.Equal(w.ID, byNeg.ID)
	})

	s.Run("rejects duplicate ids", func() {
		w := s.newWorkflow(24)
		s.Require().NoError(s.workflows.Create(s.ctx, w))
		s.Require().ErrorIs(s.workflows.Create(s.ctx, w), sentinel.ErrConflict)
	})

	s.Run("rejects a second workflow for one negotiation", func() {
		w := s.newWorkflow(24)
		s.Require().NoError(s.workflows.Create(s.ctx, w))

		again := s.newWorkflow(24)
		again.NegotiationID = w.NegotiationID
		s.Require().ErrorIs(s.workflows.Create(s.ctx, again), sentinel.ErrConflict)
	})

	s.Run("returns ErrNotFound for unknown lookups", func() {
		_, err := s.workflows.FindByID(s.ctx, id.NewWorkflowID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.workflows.FindByNegotiation(s.ctx, id.NewNegotiationID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *WorkflowStoreSuite) TestExecute() {
	s.Run("persists on success", func() {
		w := s.newWorkflow(24)
		s.Require().NoError(s.workflows.Create(s.ctx, w))
		actor := id.Actor{UserID: id.NewUserID(), Side: id.SideClient, Role: "legal"}

		updated, err := s.workflows.Execute(s.ctx, w.ID, func(work *models.Workflow) error {
			work.ApplyDecideStep(work.Steps[0].ID, true, actor, "", wfStoreBase.Add(time.Hour))
			return nil
		})
		s.Require().NoError(err)
		s.Equal(models.WorkflowApproved, updated.Status)

		found, err := s.workflows.FindByID(s.ctx, w.ID)
		s.Require().NoError(err)
		s.Equal(models.WorkflowApproved, found.Status)
	})

	s.Run("discards mutations on error", func() {
		w := s.newWorkflow(24)
		s.Require().NoError(s.workflows.Create(s.ctx, w))
		actor := id.Actor{UserID: id.NewUserID(), Side: id.SideClient, Role: "legal"}

		_, err := s.workflows.Execute(s.ctx, w.ID, func(work *models.Workflow) error {
			work.ApplyDecideStep(work.Steps[0].ID, true, actor, "", wfStoreBase.Add(time.Hour))
			return sentinel.ErrInvalidState
		})
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		found, err := s.workflows.FindByID(s.ctx, w.ID)
		s.Require().NoError(err)
		s.Equal(models.WorkflowInProgress, found.Status, "failed execute must leave the workflow untouched")
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.workflows.Execute(s.ctx, id.NewWorkflowID(), func(*models.Workflow) error { return nil })
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *WorkflowStoreSuite) TestListOverdue() {
	soon := s.newWorkflow(1)
	later := s.newWorkflow(48)
	never := s.newWorkflow(0)
	finished := s.newWorkflow(1)

	for _, w := range []*models.Workflow{soon, later, never, finished} {
		s.Require().NoError(s.workflows.Create(s.ctx, w))
	}
	actor := id.Actor{UserID: id.NewUserID(), Side: id.SideClient, Role: "legal"}
	_, err := s.workflows.Execute(s.ctx, finished.ID, func(work *models.Workflow) error {
		work.ApplyDecideStep(work.Steps[0].ID, true, actor, "", wfStoreBase.Add(time.Minute))
		return nil
	})
	s.Require().NoError(err)

	asOf := wfStoreBase.AddDate(0, 1, 0)

	ids, err := s.workflows.ListOverdue(s.ctx, asOf, 10)
	s.Require().NoError(err)
	s.Equal([]id.WorkflowID{soon.ID, later.ID}, ids, "finished and deadline-free workflows are skipped")

	limited, err := s.workflows.ListOverdue(s.ctx, asOf, 1)
	s.Require().NoError(err)
	s.Equal([]id.WorkflowID{soon.ID}, limited)
}

func (s *WorkflowStoreSuite) TestTemplates() {
	clientID := id.NewClientID()

	_, err := s.templates.FindByClient(s.ctx, clientID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	tpl, err := models.NewWorkflowTemplate(clientID, "v1", []models.StepTemplate{
		{Name: "Legal", ApproverRole: "legal", Required: true},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.templates.Put(s.ctx, tpl))

	found, err := s.templates.FindByClient(s.ctx, clientID)
	s.Require().NoError(err)
	s.Equal("v1", found.Name)

	// Mutating the returned copy must not reach the stored template.
	found.Steps[0].ApproverRole = "nobody"
	again, err := s.templates.FindByClient(s.ctx, clientID)
	s.Require().NoError(err)
	s.Equal("legal", again.Steps[0].ApproverRole)

	replacement, err := models.NewWorkflowTemplate(clientID, "v2", []models.StepTemplate{
		{Name: "Finance", ApproverRole: "finance", Required: true},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.templates.Put(s.ctx, replacement))

	latest, err := s.templates.FindByClient(s.ctx, clientID)
	s.Require().NoError(err)
	s.Equal("v2", latest.Name)
	s.Equal("Finance", latest.Steps[0].Name)
}
