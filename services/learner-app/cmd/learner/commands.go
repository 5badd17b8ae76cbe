package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/clients"
	"weversity/services/learner-app/internal/config"
	"weversity/services/learner-app/internal/flows"
	"weversity/services/learner-app/internal/role"
)

func signupCmd() *cobra.Command {
	var (
		form flows.SignupForm
		as   string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a student or teacher account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, s *session) error {
				signup := s.app.Signup()
				switch as {
				case "student":
					return signup.SignupStudent(ctx, form)
				case "teacher":
					return signup.SignupTeacher(ctx, form)
				default:
					return fmt.Errorf("unknown role %q (want student or teacher)", as)
				}
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&as, "as", "student", "Account role (student, teacher)")
	f.StringVar(&form.FirstName, "first-name", "", "First name")
	f.StringVar(&form.LastName, "last-name", "", "Last name")
	f.StringVar(&form.UserName, "username", "", "Username")
	f.StringVar(&form.Email, "email", "", "Email address")
	f.StringVar(&form.PhoneNumber, "phone", "", "Phone number")
	f.StringVar(&form.Password, "password", "", "Password")
	f.StringVar(&form.PasswordConfirmation, "confirm-password", "", "Password again")
	f.StringVar(&form.Expertise, "expertise", "", "Subject expertise (teachers)")
	f.StringVar(&form.Bio, "bio", "", "Short bio")
	f.StringVar(&form.AvatarURL, "avatar-url", "", "Avatar image URL")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, s *session) error {
				return s.app.Login().Submit(ctx, email, password)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, s *session) error {
				s.app.Logout(ctx)
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and their dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, s *session) error {
				current, ok := s.app.Session.Session()
				if !ok {
					fmt.Fprintln(s.out, "not signed in")
					return nil
				}
				r, err := s.app.Roles.Resolve(ctx, current.UserID)
				if err != nil {
					s.logger.WarnContext(ctx, "role lookup failed", "error", err)
				}
				dashboard := role.DashboardFor(r)
				if dashboard == role.DashboardNone {
					dashboard = "none"
				}
				fmt.Fprintf(s.out, "email: %s\nverified: %t\nrole: %s\ndashboard: %s\n",
					current.Email, current.EmailVerified, displayRole(string(r)), dashboard)
				return nil
			})
		},
	}
}

func displayRole(r string) string {
	if r == "" {
		return "unset"
	}
	return r
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <link>",
		Short: "Open an email verification link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, s *session) error {
				return s.app.OpenLink(ctx, backend.StaticLink(args[0]))
			})
		},
	}
}

func resendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend",
		Short: "Send the verification email again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, s *session) error {
				verification := s.app.Verification()
				email, ok := verification.PendingEmail(ctx)
				if err := verification.Resend(ctx); err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(s.out, "verification email sent to %s\n", email)
				}
				return nil
			})
		},
	}
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a forgotten password",
	}

	var requestEmail string
	request := &cobra.Command{
		Use:   "request",
		Short: "Email a 4-digit reset code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, s *session) error {
				if err := s.app.Reset().RequestOTP(ctx, requestEmail); err != nil {
					return err
				}
				fmt.Fprintln(s.out, "OTP sent to your email")
				return nil
			})
		},
	}
	request.Flags().StringVar(&requestEmail, "email", "", "Account email")

	var email, code, password, confirmation string
	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password with the emailed code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(code) != flows.OTPCells {
				return fmt.Errorf("code must have %d digits", flows.OTPCells)
			}
			return withApp(cmd, func(ctx context.Context, s *session) error {
				reset := s.app.Reset()
				reset.Resume(email)
				for i, r := range code {
					reset.OTP.Type(i, string(r))
				}
				if err := reset.SubmitOTP(ctx); err != nil {
					return err
				}
				if confirmation == "" {
					confirmation = password
				}
				if err := reset.SetNewPassword(ctx, password, confirmation); err != nil {
					return err
				}
				fmt.Fprintln(s.out, "Password reset successfully")
				return nil
			})
		},
	}
	confirm.Flags().StringVar(&email, "email", "", "Account email")
	confirm.Flags().StringVar(&code, "code", "", "4-digit code from the email")
	confirm.Flags().StringVar(&password, "password", "", "New password")
	confirm.Flags().StringVar(&confirmation, "confirm-password", "", "New password again")

	cmd.AddCommand(request, confirm)
	return cmd
}

func statusCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that the identity service is serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c, err := clients.New(cfg.IdentityGRPCAddr, cfg.ServiceAuthToken, cfg.GRPCDialTimeout)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if wait {
				if err := c.WaitForHealth(ctx, clients.IdentityService); err != nil {
					return err
				}
			}
			status, err := c.Check(ctx, clients.IdentityService)
			if err != nil {
				return fmt.Errorf("identity service unreachable at %s: %w", cfg.IdentityGRPCAddr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", clients.IdentityService, status)
			if status != grpc_health_v1.HealthCheckResponse_SERVING {
				return errors.New("identity service is not serving")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the service reports SERVING or the command is interrupted")
	return cmd
}
