package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errNotLoggedIn = errors.New("not logged in (run sessionctl login)")

type sessionView struct {
	UserID            string    `yaml:"user_id" json:"user_id"`
	Email             string    `yaml:"email" json:"email"`
	DisplayName       string    `yaml:"display_name" json:"display_name"`
	Role              string    `yaml:"role" json:"role"`
	RoleID            int       `yaml:"role_id" json:"role_id"`
	SuperUser         bool      `yaml:"superuser" json:"superuser"`
	Organisation      string    `yaml:"organisation,omitempty" json:"organisation,omitempty"`
	State             string    `yaml:"state" json:"state"`
	PrivilegeSource   string    `yaml:"privilege_source" json:"privilege_source"`
	Privileges        []string  `yaml:"privileges" json:"privileges"`
	Modules           []int     `yaml:"modules" json:"modules"`
	Routes            []string  `yaml:"routes" json:"routes"`
	AccessExpiresAt   time.Time `yaml:"access_expires_at,omitempty" json:"access_expires_at,omitempty"`
	AssignedCustomers []int     `yaml:"assigned_customers,omitempty" json:"assigned_customers,omitempty"`
}

func viewOf(s goSession.Session) sessionView {
	privs := append([]string(nil), s.Privileges...)
	sort.Strings(privs)
	return sessionView{
		UserID:            s.UserID,
		Email:             s.Email,
		DisplayName:       s.DisplayName,
		Role:              s.RoleName,
		RoleID:            s.RoleID,
		SuperUser:         s.IsSuperUser,
		Organisation:      s.Organisation,
		State:             s.State.String(),
		PrivilegeSource:   s.RBACSource.String(),
		Privileges:        privs,
		Modules:           s.AccessibleModules,
		Routes:            s.AccessibleRoutes,
		AccessExpiresAt:   s.AccessTokenExpiresAt,
		AssignedCustomers: s.AssignedCustomers,
	}
}

func writeView(w io.Writer, format string, v sessionView) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "user\t%s <%s>\n", v.DisplayName, v.Email)
		fmt.Fprintf(tw, "role\t%s (%d)\n", v.Role, v.RoleID)
		if v.SuperUser {
			fmt.Fprintf(tw, "superuser\tyes\n")
		}
		fmt.Fprintf(tw, "state\t%s\n", v.State)
		fmt.Fprintf(tw, "privileges\t%d from %s\n", len(v.Privileges), v.PrivilegeSource)
		if !v.AccessExpiresAt.IsZero() {
			fmt.Fprintf(tw, "access expires\t%s\n", v.AccessExpiresAt.Local().Format(time.RFC3339))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// restore rehydrates the persisted session and resolves its privileges.
func restore(cmd *cobra.Command, e *goSession.Engine) error {
	ctx := cmd.Context()
	if err := e.Restore(ctx); err != nil {
		if errors.Is(err, goSession.ErrNoSession) || errors.Is(err, goSession.ErrSessionExpired) {
			return fmt.Errorf("%w: %v", errNotLoggedIn, err)
		}
		return err
	}
	if err := e.ResolvePrivileges(ctx); err != nil && !errors.Is(err, goSession.ErrSessionSuperseded) {
		return err
	}
	return nil
}

func newLoginCmd(a *app) *cobra.Command {
	var email, password, output string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a session",
		Long: `Log in against the auth service and persist the token pair.

The password may be given with --password or SESSIONCTL_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(envPrefix + "PASSWORD")
			}
			if strings.TrimSpace(email) == "" || password == "" {
				return errors.New("--email and --password are required")
			}

			e, cleanup, err := a.openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if err := e.Login(ctx, email, password); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := e.ResolvePrivileges(ctx); err != nil && !errors.Is(err, goSession.ErrSessionSuperseded) {
				a.logger.Warn().Err(err).Msg("privilege resolution failed")
			}
			return writeView(a.out, output, viewOf(e.CurrentSession()))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, yaml or json")
	return cmd
}

func newWhoamiCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, cleanup, err := a.openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := restore(cmd, e); err != nil {
				return err
			}
			return writeView(a.out, output, viewOf(e.CurrentSession()))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, yaml or json")
	return cmd
}

func newCanCmd(a *app) *cobra.Command {
	var (
		modules []int
		routes  []string
	)

	cmd := &cobra.Command{
		Use:   "can [privilege...]",
		Short: "Check privileges, modules and routes for the session",
		Long: `Check access for the persisted session. Exits non-zero when any check
is denied.

Examples:
  sessionctl can add_role delete_role
  sessionctl can --module 7 --route /planning/shipments/12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(modules) == 0 && len(routes) == 0 {
				return errors.New("nothing to check")
			}

			e, cleanup, err := a.openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := restore(cmd, e); err != nil {
				return err
			}

			denied := 0
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			report := func(kind, name string, ok bool) {
				verdict := "allowed"
				if !ok {
					verdict = "denied"
					denied++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", kind, name, verdict)
			}
			for _, p := range args {
				report("privilege", p, e.Can(p))
			}
			for _, id := range modules {
				report("module", fmt.Sprint(id), e.IsModuleAccessible(id))
			}
			for _, r := range routes {
				report("route", r, e.IsRouteAccessible(r))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if denied > 0 {
				return fmt.Errorf("%d check(s) denied", denied)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&modules, "module", nil, "module id to check (repeatable)")
	cmd.Flags().StringSliceVar(&routes, "route", nil, "route path to check (repeatable)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, cleanup, err := a.openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			e.Logout(cmd.Context())
			fmt.Fprintln(a.out, "logged out")
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval    time.Duration
		untilLogout bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and print lifecycle events",
		Long: `Restore the session, run the background token refresh and print every
lifecycle event until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval > 0 {
				a.cfg.RefreshInterval = interval
			}
			e, cleanup, err := a.openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			events, cancel := e.Events(64)
			defer cancel()

			if err := restore(cmd, e); err != nil {
				return err
			}
			s := e.CurrentSession()
			fmt.Fprintf(a.out, "watching session of %s (refresh every %s)\n", s.Email, a.cfg.refreshInterval())

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					printEvent(a.out, ev)
					if untilLogout && ev.Kind == goSession.EventSessionChanged && ev.State == goSession.StateUnauthenticated {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "refresh-interval", 0, "override the refresh interval")
	cmd.Flags().BoolVar(&untilLogout, "until-logout", false, "exit once the session ends")
	return cmd
}

func printEvent(w io.Writer, ev goSession.Event) {
	line := fmt.Sprintf("%s  %-20s state=%s epoch=%d", ev.At.Local().Format(time.TimeOnly), ev.Kind, ev.State, ev.Epoch)
	if ev.Reason != "" {
		line += " reason=" + string(ev.Reason)
	}
	if ev.Message != "" {
		line += fmt.Sprintf(" message=%q", ev.Message)
	}
	fmt.Fprintln(w, line)
}
