package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"mydylms-backend/internal/session"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var loginEmail string

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "The portal account to log in as.")
	loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd, logoutCmd, credsCmd)
}

func renderSession(sess session.Session) {
	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	userId := ""
	if sess.UserId != 0 {
		userId = strconv.FormatInt(sess.UserId, 10)
	}
	t.AppendRows([]table.Row{
		{"user_id", userId},
		{"sesskey", sess.Sesskey},
		{"cookie", sess.Cookie},
		{"web_key", sess.WebKey},
		{"features_key", sess.FeaturesKey},
		{"my_key", sess.MyKey},
	})
	t.Render()
}

var loginCmd = &cobra.Command{
	Use:   "login --email <email>",
	Short: "Logs in to the portal, the password is read from MYDYLMS_PASSWORD.",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("MYDYLMS_PASSWORD")
		if password == "" {
			return errors.New("MYDYLMS_PASSWORD is not set")
		}
		sess, err := getApp(cmd.Context()).Auth.Login(cmd.Context(), loginEmail, password)
		if err != nil {
			return err
		}
		renderSession(sess)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Logs out of the portal and clears the session and cache.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := getApp(cmd.Context()).Auth.Logout(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Derives every missing credential of the stored session and prints them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := getApp(cmd.Context()).Auth.Credentials(cmd.Context())
		if err != nil {
			return err
		}
		renderSession(sess)
		return nil
	},
}
