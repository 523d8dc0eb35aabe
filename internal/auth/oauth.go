package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/FranLegon/drive-upload/internal/logger"
)

const (
	// OAuth redirect URI for local callback server
	RedirectURL = "http://localhost:8080/callback"

	// Google OAuth scopes
	GoogleEmailScope = oauth2api.UserinfoEmailScope

	flowTimeout = 5 * time.Minute
)

// OAuthConfig creates the OAuth2 configuration for Google Drive uploads
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  RedirectURL,
		Scopes: []string{
			drive.DriveScope,
			GoogleEmailScope,
		},
		Endpoint: google.Endpoint,
	}
}

// PerformOAuthFlow initiates the OAuth flow and returns the refresh token
func PerformOAuthFlow(ctx context.Context, config *oauth2.Config, log *logger.Tagger) (string, error) {
	redirect, err := url.Parse(config.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	state := uuid.NewString()
	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	log.Info("Please visit this URL to authorize the application:")
	log.Info("%s", authURL)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle(redirect.Path, callbackHandler(state, codeChan, errChan))
	server := &http.Server{Addr: redirect.Host, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		server.Shutdown(context.Background())
		return "", err
	case <-ctx.Done():
		server.Shutdown(context.Background())
		return "", ctx.Err()
	case <-time.After(flowTimeout):
		server.Shutdown(context.Background())
		return "", fmt.Errorf("OAuth flow timed out after %s", flowTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if token.RefreshToken == "" {
		return "", errors.New("no refresh token received (user may have already authorized)")
	}

	return token.RefreshToken, nil
}

// callbackHandler receives the authorization code of the redirect
func callbackHandler(state string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			send(errChan, errors.New("state mismatch"))
			fmt.Fprintf(w, "Error: State mismatch. You can close this window.")
			return
		}

		if msg := r.URL.Query().Get("error"); msg != "" {
			send(errChan, fmt.Errorf("authorization denied: %s", msg))
			fmt.Fprintf(w, "Error: Authorization denied. You can close this window.")
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			send(errChan, errors.New("no authorization code received"))
			fmt.Fprintf(w, "Error: No authorization code received. You can close this window.")
			return
		}

		send(codeChan, code)
		fmt.Fprintf(w, "Authorization successful! You can close this window and return to the terminal.")
	}
}

// send never blocks; only the first result of the flow matters
func send[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// UserEmail returns the email address of the account behind client
func UserEmail(ctx context.Context, client *http.Client, opts ...option.ClientOption) (string, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := service.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get user info: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("account has no email address")
	}
	return info.Email, nil
}
