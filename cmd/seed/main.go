// Command seed applies the database schema and loads a demo client plus an
// "Onboarding" workflow template for local development.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"engagement-engine/backend/internal/config"
	"engagement-engine/backend/internal/logging"
	"engagement-engine/backend/internal/repository"
	"engagement-engine/backend/pkg/models"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "engagement-seed",
		Short: "Apply schema and seed demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "Path to config file")

	if err := root.Execute(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("Schema applied")

	clientID := uuid.New().String()
	if err := store.CreateClient(ctx, &models.Client{
		ID:    clientID,
		Name:  "Acme Corp",
		Email: "ops@acme.example",
	}); err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	logger.Info("Demo client created", "client_id", clientID)

	templateID, err := seedOnboardingTemplate(ctx, store)
	if err != nil {
		return fmt.Errorf("seed onboarding template: %w", err)
	}
	logger.Info("Onboarding template created", "workflow_template_id", templateID)

	fmt.Printf("client_id=%s\nworkflow_template_id=%s\n", clientID, templateID)
	return nil
}

// seedOnboardingTemplate creates a two-stage onboarding template: discovery
// (kickoff call, intake form) and delivery (draft plan, final review). The
// kickoff task demonstrates client-record enrichment and an early-exit
// outcome.
func seedOnboardingTemplate(ctx context.Context, store repository.Store) (string, error) {
	template := &models.WorkflowTemplate{
		ID:          uuid.New().String(),
		Name:        "Onboarding",
		Description: "Standard client onboarding engagement",
	}
	if err := store.CreateWorkflowTemplate(ctx, template); err != nil {
		return "", err
	}

	version := &models.WorkflowTemplateVersion{
		ID:                 uuid.New().String(),
		WorkflowTemplateID: template.ID,
		VersionNumber:      1,
		Status:             models.VersionStatusPublished,
	}
	if err := store.CreateTemplateVersion(ctx, version); err != nil {
		return "", err
	}

	type taskSpec struct {
		name         string
		instructions string
		priority     string
		fields       []models.DataFieldDefinition
		rules        []models.OutcomeRule
		subitems     []string
	}
	type stageSpec struct {
		name        string
		owner       string
		deliverable string
		tasks       []taskSpec
	}

	stages := []stageSpec{
		{
			name:        "Discovery",
			owner:       "account_manager",
			deliverable: "Intake",
			tasks: []taskSpec{
				{
					name:         "Kickoff call",
					instructions: "Run the kickoff call and capture the client's primary contact.",
					priority:     "high",
					fields: []models.DataFieldDefinition{
						{Code: "primary_contact", Label: "Primary contact", FieldType: "string", Required: true, SaveToClientField: "primary_contact"},
						{Code: "timeline_weeks", Label: "Expected timeline (weeks)", FieldType: "number"},
					},
					rules: []models.OutcomeRule{
						{OutcomeName: "not_a_fit", Action: models.ActionEndWorkflow},
						{OutcomeName: "needs_legal_review", Action: models.ActionBlockWorkflow},
					},
					subitems: []string{"Confirm attendees", "Share agenda"},
				},
				{
					name:         "Intake form",
					instructions: "Collect the signed intake form.",
					priority:     "medium",
				},
			},
		},
		{
			name:        "Delivery",
			owner:       "consultant",
			deliverable: "Engagement plan",
			tasks: []taskSpec{
				{name: "Draft plan", priority: "high"},
				{name: "Final review", priority: "medium"},
			},
		},
	}

	for si, ss := range stages {
		stage := &models.StageTemplate{
			ID:            uuid.New().String(),
			VersionID:     version.ID,
			Name:          ss.name,
			OwnerRef:      ss.owner,
			SequenceOrder: si + 1,
		}
		if err := store.CreateStageTemplate(ctx, stage); err != nil {
			return "", err
		}
		deliverable := &models.DeliverableTemplate{
			ID:              uuid.New().String(),
			StageTemplateID: stage.ID,
			Name:            ss.deliverable,
			SequenceOrder:   1,
		}
		if err := store.CreateDeliverableTemplate(ctx, deliverable); err != nil {
			return "", err
		}
		for ti, ts := range ss.tasks {
			task := &models.TaskTemplate{
				ID:                    uuid.New().String(),
				DeliverableTemplateID: deliverable.ID,
				Name:                  ts.name,
				Instructions:          ts.instructions,
				Priority:              ts.priority,
				SequenceOrder:         ti + 1,
				DataFieldDefinitions:  ts.fields,
				OutcomeRules:          ts.rules,
			}
			if err := store.CreateTaskTemplate(ctx, task); err != nil {
				return "", err
			}
			for sui, name := range ts.subitems {
				if err := store.CreateSubitemTemplate(ctx, &models.SubitemTemplate{
					ID:             uuid.New().String(),
					TaskTemplateID: task.ID,
					Name:           name,
					SequenceOrder:  sui + 1,
				}); err != nil {
					return "", err
				}
			}
		}
	}

	return template.ID, nil
}
