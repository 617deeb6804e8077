package storage

import "strings"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
	DynamoModeNone  DynamoMode = "none"
)

// ParseDynamoMode maps unknown values to DynamoModeNone
func ParseDynamoMode(s string) DynamoMode {
	switch mode := DynamoMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case DynamoModeLocal, DynamoModeAWS:
		return mode
	}
	return DynamoModeNone
}

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode             DynamoMode
	Endpoint         string // for local mode
	Region           string
	CallRecordsTable string
}
