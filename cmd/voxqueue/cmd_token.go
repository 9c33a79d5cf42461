/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/voxqueue/internal/auth"
)

var (
	tokenSubject string
	tokenRoles   []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign an API token with VOXQUEUE_JWT_SIGNING_KEY",
	Long: `Sign a bearer token for the HTTP API.

Examples:
  # Read-only token for a dashboard
  voxqueue token issue --subject grafana --role viewer

  # Operator token valid for a week
  voxqueue token issue --subject ops-bot --role operator --ttl 168h
`,
	RunE: runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject, recorded as the requester of plays")
	tokenIssueCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleViewer}, "Roles to grant (operator, viewer)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("subject")
	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	for _, role := range tokenRoles {
		if role != auth.RoleOperator && role != auth.RoleViewer {
			return fmt.Errorf("unknown role %q", role)
		}
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), tokenSubject, tokenRoles, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
