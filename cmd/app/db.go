package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maloquacious/libcashier/internal/schema"
	"github.com/maloquacious/libcashier/internal/store"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and initialize the datastore",
		RunE:  runDBCreate,
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Bring the schema to the current version (drops all data when the version changed)",
		RunE:  runDBUpgrade,
	}
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify schema integrity and version",
		RunE:  runDBVerify,
	}
	dbResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate every table",
		RunE:  runDBReset,
	}
	dbResetCmd.Flags().Bool("yes", false, "confirm that all data will be deleted")

	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd, dbResetCmd)
	return dbCmd
}

func runDBCreate(cmd *cobra.Command, args []string) error {
	dir := store.GetStorePath(cfg.Store.Dir)
	exists, err := store.CheckExists(dir)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("datastore already exists: %s", store.GetDBPath(dir))
	}

	s := newStore()
	if err := s.Open(cmd.Context()); err != nil {
		return err
	}
	defer s.Close()

	log.Info("created %s at schema version %d", s.Path(), schema.Version)
	return writeTransition(cmd, s.Transition())
}

func runDBUpgrade(cmd *cobra.Command, args []string) error {
	if err := requireStore(); err != nil {
		return err
	}

	s := newStore()
	if err := s.Open(cmd.Context()); err != nil {
		return err
	}
	defer s.Close()

	return writeTransition(cmd, s.Transition())
}

// verifyReport is the JSON summary printed by db verify.
type verifyReport struct {
	Path            string   `json:"path"`
	State           string   `json:"state"`
	SchemaVersion   int      `json:"schemaVersion"`
	DeclaredVersion int      `json:"declaredVersion"`
	Problems        []string `json:"problems,omitempty"`
}

func runDBVerify(cmd *cobra.Command, args []string) error {
	if err := requireStore(); err != nil {
		return err
	}

	s := newStore()
	if err := s.OpenReadOnly(cmd.Context()); err != nil {
		return err
	}
	defer s.Close()

	report := verifyReport{Path: s.Path(), DeclaredVersion: schema.Version}
	state, err := s.CheckState(cmd.Context())
	if err != nil {
		return err
	}
	report.State = state.String()
	if report.SchemaVersion, err = s.SchemaVersion(cmd.Context()); err != nil {
		return err
	}

	verr := schema.Verify(cmd.Context(), s.DB())
	if verr != nil && !errors.Is(verr, schema.ErrMismatch) {
		return verr
	}
	if verr != nil {
		report.Problems = strings.Split(verr.Error(), "\n")
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	if state != store.StateReady || verr != nil {
		return fmt.Errorf("datastore is not healthy: state %s, %d problems", report.State, len(report.Problems))
	}
	return nil
}

func runDBReset(cmd *cobra.Command, args []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return errors.New("reset deletes every row; pass --yes to confirm")
	}
	if err := requireStore(); err != nil {
		return err
	}

	s := newStore()
	if err := s.Open(cmd.Context()); err != nil {
		return err
	}
	defer s.Close()

	if err := s.Rebuild(cmd.Context()); err != nil {
		return err
	}
	return writeTransition(cmd, s.Transition())
}

func requireStore() error {
	dir := store.GetStorePath(cfg.Store.Dir)
	exists, err := store.CheckExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no datastore at %s; run 'app db create' first", store.GetDBPath(dir))
	}
	return nil
}

func writeTransition(cmd *cobra.Command, t store.Transition) error {
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"transition": t.Kind.String(),
		"from":       t.From,
		"to":         t.To,
	})
}
