package reminder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service is the reminder facade used by handlers, the scheduler and the CLI.
type Service struct {
	repo       Repository
	generator  *Generator
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

func NewService(repo Repository, gen *Generator, disp *Dispatcher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, generator: gen, dispatcher: disp, logger: logger}
}

// CycleResult reports one generate-then-dispatch cycle.
type CycleResult struct {
	Generated GenerateResult `json:"generated"`
	Dispatch  DispatchResult `json:"dispatch"`
}

func (s *Service) GenerateDailyReminders(ctx context.Context) (GenerateResult, error) {
	return s.generator.Generate(ctx)
}

func (s *Service) GetPendingReminders(ctx context.Context, limit, offset int) ([]*Reminder, int, error) {
	return s.repo.ListPending(ctx, limit, offset)
}

func (s *Service) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) DispatchDue(ctx context.Context) (DispatchResult, error) {
	return s.dispatcher.Run(ctx)
}

// RunCycle generates due reminders and then dispatches them. A generation
// failure stops the cycle before anything is sent.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	var out CycleResult
	gen, err := s.generator.Generate(ctx)
	if err != nil {
		return out, fmt.Errorf("generate reminders: %w", err)
	}
	out.Generated = gen

	disp, err := s.dispatcher.Run(ctx)
	if err != nil {
		return out, fmt.Errorf("dispatch reminders: %w", err)
	}
	out.Dispatch = disp
	return out, nil
}
