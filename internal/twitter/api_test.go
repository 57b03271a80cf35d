package twitter_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/syfol/syfol-worker/internal/twitter"
	"github.com/syfol/syfol-worker/pkg/client"
)

var _ = Describe("API", func() {
	var (
		mockServer *httptest.Server
		api        *API
		handler    http.HandlerFunc
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))

		c, err := client.NewTwitterClient(client.Credentials{
			ConsumerKey:    "ck",
			ConsumerSecret: "cs",
			AccessToken:    "at",
			AccessSecret:   "as",
		}, client.BaseURL(mockServer.URL), client.MaxRetries(0), client.InitialInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		api = NewAPI(c)
	})

	AfterEach(func() {
		mockServer.Close()
	})

	Describe("SearchTweets", func() {
		It("should request a mixed page without entities and decode string ids", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/search/tweets.json"))
				q := r.URL.Query()
				Expect(q.Get("q")).To(Equal("#golang"))
				Expect(q.Get("result_type")).To(Equal("mixed"))
				Expect(q.Get("include_entities")).To(Equal("false"))
				Expect(q.Get("count")).To(Equal("100"))
				Expect(q.Get("max_id")).To(Equal("1186275104715079680"))
				fmt.Fprint(w, `{"statuses":[
					{"id": 1186275104715079680, "id_str":"1186275104715079680","user":{"id_str":"12345678901234567890"}},
					{"id_str":"1186275104715079679","user":{"id_str":"42"}}
				]}`)
			}

			tweets, err := api.SearchTweets(ctx, SearchParams{Query: "#golang", MaxID: "1186275104715079680"})
			Expect(err).NotTo(HaveOccurred())
			Expect(tweets).To(HaveLen(2))
			Expect(tweets[0].IDStr).To(Equal("1186275104715079680"))
			Expect(tweets[0].User.IDStr).To(Equal("12345678901234567890"))
			Expect(tweets[1].User.IDStr).To(Equal("42"))
		})

		It("should omit max_id on the first page", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Query().Has("max_id")).To(BeFalse())
				Expect(r.URL.Query().Get("count")).To(Equal("20"))
				fmt.Fprint(w, `{"statuses":[]}`)
			}

			tweets, err := api.SearchTweets(ctx, SearchParams{Query: "x", Count: 20})
			Expect(err).NotTo(HaveOccurred())
			Expect(tweets).To(BeEmpty())
		})

		It("should return a rate limit error", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`)
			}

			_, err := api.SearchTweets(ctx, SearchParams{Query: "x"})
			Expect(err).To(HaveOccurred())
			Expect(IsRateLimited(err)).To(BeTrue())
			Expect(IsTargetGone(err)).To(BeFalse())
		})

		It("should fail on a malformed body", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"statuses":`)
			}

			_, err := api.SearchTweets(ctx, SearchParams{Query: "x"})
			Expect(err).To(MatchError(ContainSubstring("failed to decode response")))
		})
	})

	Describe("Follow", func() {
		It("should create the friendship with notifications off", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/friendships/create.json"))
				Expect(r.ParseForm()).To(Succeed())
				Expect(r.PostForm.Get("user_id")).To(Equal("100"))
				Expect(r.PostForm.Get("follow")).To(Equal("false"))
				fmt.Fprint(w, `{"id_str":"100"}`)
			}

			Expect(api.Follow(ctx, "100")).To(Succeed())
		})

		It("should surface API errors", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"errors":[{"code":161,"message":"You are unable to follow more people at this time."}]}`)
			}

			err := api.Follow(ctx, "100")
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.StatusCode).To(Equal(http.StatusForbidden))
			Expect(apiErr.HasCode(CodeFollowLimit)).To(BeTrue())
			Expect(apiErr.Error()).To(ContainSubstring("161 You are unable to follow"))
		})
	})

	Describe("Unfollow", func() {
		It("should destroy the friendship", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/friendships/destroy.json"))
				Expect(r.ParseForm()).To(Succeed())
				Expect(r.PostForm.Get("user_id")).To(Equal("7"))
				fmt.Fprint(w, `{}`)
			}

			Expect(api.Unfollow(ctx, "7")).To(Succeed())
		})

		DescribeTable("should recognise accounts that no longer exist",
			func(status int, body string, gone bool) {
				handler = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(status)
					fmt.Fprint(w, body)
				}
				err := api.Unfollow(ctx, "7")
				Expect(err).To(HaveOccurred())
				Expect(IsTargetGone(err)).To(Equal(gone))
			},
			Entry("page does not exist", http.StatusNotFound, `{"errors":[{"code":34,"message":"Sorry, that page does not exist."}]}`, true),
			Entry("user not found", http.StatusNotFound, `{"errors":[{"code":50,"message":"User not found."}]}`, true),
			Entry("user suspended", http.StatusForbidden, `{"errors":[{"code":63,"message":"User has been suspended."}]}`, true),
			Entry("no user matches", http.StatusNotFound, `{"errors":[{"code":108,"message":"Cannot find specified user."}]}`, true),
			Entry("rate limited", http.StatusTooManyRequests, `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`, false),
			Entry("plain text body", http.StatusNotFound, `not json`, false),
		)
	})

	Describe("VerifyCredentials", func() {
		It("should return the authenticated user", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/account/verify_credentials.json"))
				fmt.Fprint(w, `{"id_str":"99","screen_name":"syfol"}`)
			}

			user, err := api.VerifyCredentials(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(user.ScreenName).To(Equal("syfol"))
		})

		It("should fail for rejected keys", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"errors":[{"code":32,"message":"Could not authenticate you."}]}`)
			}

			_, err := api.VerifyCredentials(ctx)
			Expect(err).To(MatchError(ContainSubstring("Could not authenticate you")))
		})
	})
})
