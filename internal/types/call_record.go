package types

import "time"

// CallRecord represents a terminal call for DynamoDB archiving
type CallRecord struct {
	DateKey          string `json:"dateKey" dynamodbav:"DateKey"` // YYYY-MM-DD (partition key)
	CallID           string `json:"callId" dynamodbav:"CallID"`   // sort key
	CustomerPhone    string `json:"customerPhone" dynamodbav:"CustomerPhone"`
	AgentID          string `json:"agentId" dynamodbav:"AgentID"`
	Status           string `json:"status" dynamodbav:"Status"`
	Kind             string `json:"callType" dynamodbav:"CallType"`
	Issue            string `json:"issue" dynamodbav:"Issue"`
	CreatedAt        string `json:"createdAt" dynamodbav:"CreatedAt"` // RFC3339
	StartTime        string `json:"startTime" dynamodbav:"StartTime"` // RFC3339
	EndTime          string `json:"endTime" dynamodbav:"EndTime"`     // RFC3339
	WaitTime         int64  `json:"waitTime" dynamodbav:"WaitTime"`   // seconds
	TalkTime         int64  `json:"talkTime" dynamodbav:"TalkTime"`   // seconds
	ExpectedDuration int64  `json:"expectedDuration" dynamodbav:"ExpectedDuration"`
	Abandoned        bool   `json:"abandoned" dynamodbav:"Abandoned"`
	Summary          string `json:"summary,omitempty" dynamodbav:"Summary,omitempty"`
}

// NewCallRecord converts a terminal call to its archive form
func NewCallRecord(call *Call, summary string) CallRecord {
	record := CallRecord{
		CallID:        call.ID,
		CustomerPhone: call.CustomerPhone,
		AgentID:       call.Agent(),
		Status:        string(call.Status),
		Kind:          string(call.Kind),
		Issue:         call.Issue,
		WaitTime:      call.WaitTimeSeconds,
		Abandoned:     call.Status == CallStatusAbandoned,
		Summary:       summary,
	}

	created := time.Unix(call.CreatedAt, 0).UTC()
	record.DateKey = created.Format("2006-01-02")
	record.CreatedAt = created.Format(time.RFC3339)
	if call.StartTime != nil {
		record.StartTime = time.Unix(*call.StartTime, 0).UTC().Format(time.RFC3339)
	}
	if call.EndTime != nil {
		record.EndTime = time.Unix(*call.EndTime, 0).UTC().Format(time.RFC3339)
		if call.StartTime != nil {
			record.TalkTime = *call.EndTime - *call.StartTime
		}
	}
	if call.ExpectedDurationSeconds != nil {
		record.ExpectedDuration = *call.ExpectedDurationSeconds
	}

	return record
}
