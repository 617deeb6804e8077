package provisioner

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
)

type seedConversation struct {
	issue      string
	transcript string
	summary    string
}

var seedConversations = []seedConversation{
	{
		issue:      "Database failover incident",
		transcript: `Agent: Support, this is the incident desk. I hear your writes are failing?
Customer: Every insert we send times out and our checkout page is stuck.
Agent: We are in the middle of a primary database failover, so writes are paused for a few minutes.
Customer: Is there anything we can do until it finishes?
Agent: Reads still work through the replica endpoint. I can switch your read traffic there right now.
Customer: Please do, at least the catalog will load again.
Agent: Done. I am watching the failover and will tell you the moment writes are accepted.`,
		summary: "Customer has failing writes during the database failover. Agent moved read traffic to the replica and is monitoring the failover.",
	},
	{
		issue:      "API service unavailable",
		transcript: `Agent: Thanks for holding. You mentioned your API calls return errors?
Customer: Yes, everything is a 503 since about ten minutes ago.
Agent: That matches the outage we are working on. The API tier lost its database connection during failover.
Customer: Our integration retries constantly, is that making it worse?
Agent: A little. I would suggest backing off to one retry every thirty seconds while we recover.
Customer: Okay, I am changing the retry setting now.
Agent: Great. I can see your traffic leveling off on my side, let's keep an eye on it together.`,
		summary: "Customer sees 503 errors from the API. Agent linked it to the failover and had the customer reduce retry pressure.",
	},
	{
		issue:      "Authentication service down",
		transcript: `Agent: Hello, I understand your users cannot log in?
Customer: Nobody can authenticate, the login page just spins.
Agent: The authentication service depends on the primary cluster, which is failing over at the moment.
Customer: We have a launch today, this is really bad timing.
Agent: I understand. I can issue temporary access tokens for your service accounts so background jobs keep running.
Customer: That would help with the jobs, yes.
Agent: I am generating them now and will send them over a secure channel in a moment.
Customer: Thank you, I will wait for the email.`,
		summary: "Customer's users cannot authenticate during the failover. Agent is issuing temporary tokens for service accounts.",
	},
	{
		issue:      "Query timeout errors",
		transcript: `Agent: Hi, this is support. Your reports are timing out?
Customer: Reports that take thirty seconds now fail after five minutes.
Agent: They are still pointed at the primary database, which is read only during the failover.
Customer: Can we point them somewhere else?
Agent: Yes, the read replica handles reporting fine, data is only a few seconds behind.
Customer: A few seconds is acceptable for reporting.
Agent: I am updating your reporting connection string now, it should take effect on the next run.`,
		summary: "Customer's reports time out against the primary. Agent is redirecting reporting to the read replica.",
	},
}

// SeedProvisioner plays back canned conversations. It never fails.
type SeedProvisioner struct {
	intN func(n int) int
	mu   sync.Mutex
}

// NewSeedProvisioner creates a seed provisioner
func NewSeedProvisioner() *SeedProvisioner {
	return &SeedProvisioner{intN: rand.IntN}
}

// Provision implements Provisioner. Issues without a dedicated conversation
// map to a stable one by hash.
func (p *SeedProvisioner) Provision(ctx context.Context, issue string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := seedFor(issue)

	p.mu.Lock()
	predicted := int64(FallbackMinSeconds + p.intN(FallbackMaxSeconds-FallbackMinSeconds+1))
	p.mu.Unlock()

	turns := ParseTranscript(seed.transcript, predicted)
	return &Conversation{
		Turns:                      turns,
		Transcript:                 seed.transcript,
		Summary:                    seed.summary,
		EstimatedTotalDuration:     totalDuration(turns),
		PredictedRemainingDuration: predicted,
	}, nil
}

func seedFor(issue string) seedConversation {
	for _, seed := range seedConversations {
		if strings.EqualFold(seed.issue, strings.TrimSpace(issue)) {
			return seed
		}
	}
	h := fnv.New32a()
	h.Write([]byte(issue))
	return seedConversations[h.Sum32()%uint32(len(seedConversations))]
}
