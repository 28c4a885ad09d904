package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/config"
)

// init-admin bootstraps operator access to the gateway.
//
//	init-admin                  print an admin token for ADMIN_BOOTSTRAP_TENANT
//	init-admin -genkey          print a new base64 ENCRYPTION_KEY
//	init-admin -seal < secret   seal a provider API key for the catalog
func main() {
	genKey := flag.Bool("genkey", false, "generate a new ENCRYPTION_KEY")
	seal := flag.Bool("seal", false, "seal the secret read from stdin with ENCRYPTION_KEY")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of the admin token")
	flag.Parse()

	var err error
	switch {
	case *genKey:
		err = generateKey(os.Stdout)
	case *seal:
		err = sealSecret(os.Stdin, os.Stdout, os.Getenv("ENCRYPTION_KEY"))
	default:
		err = issueAdminToken(os.Stdout, *ttl)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func generateKey(w io.Writer) error {
	key, err := config.GenerateKey(32)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, key)
	return nil
}

func sealSecret(r io.Reader, w io.Writer, encryptionKey string) error {
	box, err := config.NewSecretBoxFromBase64(encryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}

	secret, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("empty secret on stdin")
	}

	sealed, err := box.Seal(secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, sealed)
	return nil
}

func issueAdminToken(w io.Writer, ttl time.Duration) error {
	// Load configuration (for the JWT secret)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tenantID := os.Getenv("ADMIN_BOOTSTRAP_TENANT")
	if tenantID == "" {
		tenantID = "operators"
	}
	if len(cfg.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}

	token, expiresAt, err := auth.GenerateToken(cfg.JWTSecret, tenantID, "init-admin", []auth.Role{auth.RoleAdmin}, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Admin token for tenant %q, expires %s\n", tenantID, expiresAt.Format(time.RFC3339))
	fmt.Fprintln(w, token)
	return nil
}
