package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the admin password for a session token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		body, _ := json.Marshal(map[string]string{"password": loginPassword})
		resp, err := http.Post(serverURL+"/auth/login", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("login request: %w", err)
		}
		defer resp.Body.Close()

		var out struct {
			Token string `json:"token"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode login response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("login failed: %s", out.Error)
		}
		fmt.Println(accentStyle.Render(out.Token))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "admin password")
	_ = loginCmd.MarkFlagRequired("password")
}
