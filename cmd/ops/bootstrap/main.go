// Package main implements the copyforge parameter bootstrap tool.
//
// It walks an operator through the secrets and identifiers the API and the
// event janitor need, validates each one against the real upstream where that
// is cheap, and writes them to SSM Parameter Store under
// /{env}/copyforge/{category}/{key}. With --export-env it then writes a
// dotenv file of *_SSM_PARAM pointers that config.LoadConfig resolves.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=prod --profile=copyforge-prod --export-env
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// Session is the verified AWS identity the run writes with.
type Session struct {
	Environment string
	Profile     string
	Region      string
	AccountID   string
	CallerARN   string
	AWSConfig   aws.Config
}

// identityClient is the STS call used to confirm credentials before any write.
type identityClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default credential chain when empty)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	skipOptional := flag.Bool("skip-optional", false, "Skip optional parameters without prompting")
	exportEnv := flag.Bool("export-env", false, "Write a dotenv file of SSM pointers after bootstrapping")
	exportEnvPath := flag.String("export-env-path", ".env", "Path for the exported dotenv file")
	flag.Parse()

	if err := validateEnvironment(*envFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := openSession(ctx, *envFlag, *profileFlag, *regionFlag)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	logger.Info("AWS identity verified", "account_id", sess.AccountID, "arn", sess.CallerARN)

	stdin := bufio.NewReader(os.Stdin)
	if sess.Environment == "prod" && !confirmProduction(stdin, os.Stderr, sess) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		return
	}
	printBanner(os.Stderr, sess)

	params := NewParamStore(ssm.NewFromConfig(sess.AWSConfig), sess.Environment, logger)
	runner := &Runner{
		Params:       params,
		Steps:        Inventory(NewValidator()),
		Stdin:        stdin,
		Stderr:       os.Stderr,
		SkipOptional: *skipOptional,
		ReadSecret:   terminalSecretReader(os.Stdin, os.Stderr),
	}
	if _, err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if *exportEnv {
		if err := ExportEnvFile(ctx, *exportEnvPath, sess.Environment, params, runner.Steps); err != nil {
			logger.Error("failed to export dotenv file", "path", *exportEnvPath, "error", err)
			os.Exit(1)
		}
		logger.Info("dotenv file exported", "path", *exportEnvPath)
	}
}

func validateEnvironment(env string) error {
	if env == "" {
		return fmt.Errorf("--env is required")
	}
	if !validEnvironments[env] {
		return fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", env)
	}
	return nil
}

func openSession(ctx context.Context, env, profile, region string) (*Session, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	sess := &Session{Environment: env, Profile: profile, Region: region, AWSConfig: cfg}
	if err := sess.verifyIdentity(ctx, sts.NewFromConfig(cfg)); err != nil {
		return nil, err
	}
	return sess, nil
}

// verifyIdentity fails fast on bad credentials so no prompt is wasted.
func (s *Session) verifyIdentity(ctx context.Context, client identityClient) error {
	idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := client.GetCallerIdentity(idCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("verifying AWS identity (profile %q, region %q): %w", s.Profile, s.Region, err)
	}
	s.AccountID = aws.ToString(out.Account)
	s.CallerARN = aws.ToString(out.Arn)
	return nil
}

// confirmProduction returns true only when the operator types "yes".
func confirmProduction(in *bufio.Reader, out io.Writer, s *Session) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  WARNING: you are targeting the PRODUCTION environment")
	fmt.Fprintf(out, "  Account: %s\n  Region:  %s\n  ARN:     %s\n\n", s.AccountID, s.Region, s.CallerARN)
	fmt.Fprint(out, "Type 'yes' to continue: ")

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func printBanner(out io.Writer, s *Session) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out, "  copyforge bootstrap")
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "  Environment:  %s\n", s.Environment)
	fmt.Fprintf(out, "  AWS Account:  %s\n", s.AccountID)
	fmt.Fprintf(out, "  AWS Region:   %s\n", s.Region)
	if s.Profile != "" {
		fmt.Fprintf(out, "  Profile:      %s\n", s.Profile)
	}
	fmt.Fprintf(out, "  SSM Prefix:   %s\n", ParamPrefix(s.Environment))
	fmt.Fprintln(out, "------------------------------------------------------------")
}
