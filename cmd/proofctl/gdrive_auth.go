package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"proofrender/internal/pkg/errors"
	"proofrender/internal/storage"
)

type gdriveAuthOptions struct {
	clientID     string
	clientSecret string
	timeout      time.Duration
}

// newGDriveAuthCommand runs the installed-app OAuth flow once and prints
// the refresh token for GDRIVE_REFRESH_TOKEN.
func newGDriveAuthCommand() *cobra.Command {
	o := &gdriveAuthOptions{}
	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Obtain a Google Drive refresh token for the gdrive artifact store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.clientID == "" {
				o.clientID = strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
			}
			if o.clientSecret == "" {
				o.clientSecret = strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
			}
			if o.clientID == "" || o.clientSecret == "" {
				return errors.Validation("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
			}
			return o.run(cmd)
		},
	}
	cmd.Flags().StringVar(&o.clientID, "client-id", "", "OAuth client id (defaults to GDRIVE_CLIENT_ID)")
	cmd.Flags().StringVar(&o.clientSecret, "client-secret", "", "OAuth client secret (defaults to GDRIVE_CLIENT_SECRET)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 3*time.Minute, "How long to wait for the browser authorization")
	return cmd
}

func (o *gdriveAuthOptions) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "gdrive-auth", "listen for callback")
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	conf := storage.OAuthConfig(o.clientID, o.clientSecret)
	conf.RedirectURL = redirectURL

	state := randomState()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code, err := callbackCode(r, state)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			select {
			case errCh <- err:
			default:
			}
			return
		}
		fmt.Fprintln(w, "OK. You can close this window and return to the terminal.")
		select {
		case codeCh <- code:
		default:
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	fmt.Fprintf(out, "\nOpen this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-time.After(o.timeout):
		return errors.Timeout("gdrive authorization")
	case <-ctx.Done():
		return ctx.Err()
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "gdrive-auth", "exchange authorization code")
	}

	// Google omits the refresh token when the app was already authorized
	// without prompt=consent.
	if strings.TrimSpace(tok.RefreshToken) == "" {
		fmt.Fprintln(out, "\nNo refresh_token was returned.")
		fmt.Fprintln(out, "Revoke the app's access at https://myaccount.google.com/permissions and run this command again.")
		return errors.New(errors.CodeUnavailable, "no refresh token returned")
	}

	fmt.Fprintf(out, "\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
	return nil
}

func callbackCode(r *http.Request, state string) (string, error) {
	q := r.URL.Query()
	if q.Get("state") != state {
		return "", errors.Validation("invalid state")
	}
	if e := q.Get("error"); e != "" {
		return "", errors.Validation("auth error: " + e)
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.Validation("missing code")
	}
	return code, nil
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
