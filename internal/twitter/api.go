package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
)

const (
	SearchTweets       = "search/tweets.json"
	FriendshipsCreate  = "friendships/create.json"
	FriendshipsDestroy = "friendships/destroy.json"
	VerifyCredentials  = "account/verify_credentials.json"

	// MaxSearchCount is the largest page the search endpoint returns.
	MaxSearchCount = 100
)

// Doer sends signed requests to the API. *client.TwitterClient implements it.
type Doer interface {
	Get(ctx context.Context, endpoint string, params url.Values) (*http.Response, error)
	Post(ctx context.Context, endpoint string, params url.Values) (*http.Response, error)
}

// User is the part of a user object the worker needs.
type User struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

// Tweet is the part of a status object the worker needs. IDs are kept as
// strings since they do not fit in a float64.
type Tweet struct {
	IDStr string `json:"id_str"`
	Text  string `json:"text"`
	User  User   `json:"user"`
}

type searchResponse struct {
	Statuses []Tweet `json:"statuses"`
}

// SearchParams holds the parameters of one search page request
type SearchParams struct {
	Query string // The search query
	MaxID string // Only return tweets with an ID less than or equal to this one
	Count int    // Page size, at most MaxSearchCount
}

// API performs the search and friendship calls of the worker.
type API struct {
	client Doer
}

func NewAPI(client Doer) *API {
	return &API{client: client}
}

// SearchTweets requests one page of tweets matching params.Query.
func (a *API) SearchTweets(ctx context.Context, params SearchParams) ([]Tweet, error) {
	count := params.Count
	if count <= 0 || count > MaxSearchCount {
		count = MaxSearchCount
	}

	query := url.Values{}
	query.Add("q", params.Query)
	query.Add("result_type", "mixed")
	query.Add("include_entities", "false")
	query.Add("count", strconv.Itoa(count))
	if params.MaxID != "" {
		query.Add("max_id", params.MaxID)
	}

	resp, err := a.client.Get(ctx, SearchTweets, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	logrus.Debugf("Search returned %d tweets", len(result.Statuses))
	return result.Statuses, nil
}

// Follow creates a friendship to userID with device notifications off.
func (a *API) Follow(ctx context.Context, userID string) error {
	logrus.Debugf("Following user %s", userID)
	return a.post(ctx, FriendshipsCreate, url.Values{
		"user_id": {userID},
		"follow":  {"false"},
	})
}

// Unfollow destroys the friendship to userID.
func (a *API) Unfollow(ctx context.Context, userID string) error {
	logrus.Debugf("Unfollowing user %s", userID)
	return a.post(ctx, FriendshipsDestroy, url.Values{
		"user_id": {userID},
	})
}

// VerifyCredentials checks that the configured keys are accepted and returns
// the account they belong to.
func (a *API) VerifyCredentials(ctx context.Context) (*User, error) {
	resp, err := a.client.Get(ctx, VerifyCredentials, url.Values{
		"include_entities": {"false"},
		"skip_status":      {"true"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &user, nil
}

func (a *API) post(ctx context.Context, endpoint string, params url.Values) error {
	resp, err := a.client.Post(ctx, endpoint, params)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// checkResponse turns a non-2xx response into an *APIError.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}

	var payload struct {
		Errors []ErrorItem `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Errors = payload.Errors
	}

	logrus.Debugf("Twitter API error: %v", apiErr)
	return apiErr
}
