package cli

import (
	"fmt"

	"github.com/julianstephens/ptlog/internal/activity"
	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/server"
)

// ServeCmd runs the activity log API until interrupted.
type ServeCmd struct {
	Addr         string `help:"Listen address." env:"PTLOG_ADDR" default:"${listen_addr}"`
	ExposeErrors bool   `help:"Include internal error detail in 500 responses (development only)." name:"expose-errors"`
}

func (c *ServeCmd) Run(ctx *Context) error {
	store, err := ctx.Store(false)
	if err != nil {
		return fmt.Errorf("failed to load server store: %w", err)
	}

	srv := server.New(activity.New(store), server.WithExposeErrors(c.ExposeErrors))
	return srv.ListenAndServe(ctx.Ctx, c.Addr)
}

// MigrateCmd creates the server store if needed and applies pending
// migrations.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx *Context) error {
	store, err := ctx.Store(true)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Server store is up to date: "+store.GetConfigPath()))
	return nil
}

type ExerciseAddCmd struct {
	ID       string `arg:"" help:"Exercise ID referenced by submissions."`
	Name     string `arg:"" help:"Display name."`
	Inactive bool   `help:"Add the exercise as inactive."`
}

func (c *ExerciseAddCmd) Run(ctx *Context) error {
	store, err := ctx.Store(false)
	if err != nil {
		return err
	}
	ex := models.Exercise{ID: c.ID, Name: c.Name, Active: !c.Inactive}
	if err := store.AddExercise(ctx.Ctx, ex); err != nil {
		return fmt.Errorf("failed to add exercise: %w", err)
	}
	fmt.Fprintln(ctx.Out, okStyle.Render(fmt.Sprintf("✓ Exercise %s (%s) saved", c.ID, c.Name)))
	return nil
}

type ExerciseActivateCmd struct {
	ID       string `arg:"" help:"Exercise ID."`
	Inactive bool   `help:"Deactivate instead."`
}

func (c *ExerciseActivateCmd) Run(ctx *Context) error {
	store, err := ctx.Store(false)
	if err != nil {
		return err
	}
	if err := store.SetExerciseActive(ctx.Ctx, c.ID, !c.Inactive); err != nil {
		return err
	}
	state := "active"
	if c.Inactive {
		state = "inactive"
	}
	fmt.Fprintln(ctx.Out, okStyle.Render(fmt.Sprintf("✓ Exercise %s is %s", c.ID, state)))
	return nil
}

type RelationshipGrantCmd struct {
	Caregiver string `arg:"" help:"Caregiver identity."`
	Patient   string `arg:"" help:"Patient identity."`
}

func (c *RelationshipGrantCmd) Run(ctx *Context) error {
	store, err := ctx.Store(false)
	if err != nil {
		return err
	}
	if err := store.GrantRelationship(ctx.Ctx, c.Caregiver, c.Patient); err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render(fmt.Sprintf("✓ %s may now log for %s", c.Caregiver, c.Patient)))
	return nil
}

type RelationshipRevokeCmd struct {
	Caregiver string `arg:"" help:"Caregiver identity."`
	Patient   string `arg:"" help:"Patient identity."`
}

func (c *RelationshipRevokeCmd) Run(ctx *Context) error {
	store, err := ctx.Store(false)
	if err != nil {
		return err
	}
	if err := store.RevokeRelationship(ctx.Ctx, c.Caregiver, c.Patient); err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render(fmt.Sprintf("✓ %s may no longer log for %s", c.Caregiver, c.Patient)))
	return nil
}
