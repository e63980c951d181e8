// Package correlate joins a normalized match with the vehicle catalog that was
// live when it was played and produces the canonical MatchRecord.
package correlate
