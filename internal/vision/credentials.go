package vision

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var visionScopes = []string{
	"https://www.googleapis.com/auth/generative-language",
	"https://www.googleapis.com/auth/cloud-platform",
}

// TokenSourceFromJSON builds a token source from service account JSON. An
// empty input yields nil, which makes the analyzer fall back to the API key.
func TokenSourceFromJSON(ctx context.Context, credentialsJSON []byte) (oauth2.TokenSource, error) {
	if len(credentialsJSON) == 0 {
		return nil, nil
	}
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, visionScopes...)
	if err != nil {
		return nil, fmt.Errorf("vision: parse credentials: %w", err)
	}
	return creds.TokenSource, nil
}
