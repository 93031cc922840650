package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required variables that are missing
	Present  map[string]string // Variables that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig validates that required environment variables are set
func CheckRequiredConfig() *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	requiredVars := []string{
		"DATABASE_URL",
		"JWT_SECRET",
	}

	for _, v := range requiredVars {
		val := os.Getenv(v)
		if val == "" {
			result.Missing = append(result.Missing, v)
		} else {
			result.Present[v] = maskSecret(val)
		}
	}

	// Optional but good to check
	optionalVars := []string{
		"SHELTER_JWT_SECRET",
	}

	for _, v := range optionalVars {
		val := os.Getenv(v)
		if val != "" {
			result.Present[v] = maskSecret(val)
		}
	}

	if os.Getenv("SHELTER_JWT_SECRET") == "" {
		result.Warnings = append(result.Warnings,
			"SHELTER_JWT_SECRET is not set, shelter tokens will be signed with JWT_SECRET")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required variables:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		fmt.Println("✓ Configured variables:")
		for k, v := range result.Present {
			fmt.Printf("   - %s = %s\n", k, v)
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// EnvCommand returns the env command for inspecting deployment configuration
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Check required environment variables",
		Action: func(c *cli.Context) error {
			result := CheckRequiredConfig()
			PrintConfigCheck(result)
			if len(result.Missing) > 0 {
				return fmt.Errorf("missing required configuration")
			}
			return nil
		},
	}
}
