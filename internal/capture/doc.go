// Package capture turns raw per-match captures into RawMatch values.
//
// Two capture kinds are understood: binary replay files written by the game
// client (.wrpl) and scoreboard scrapes produced by an external UI driver,
// either as JSON records or as saved HTML pages. Both normalize to the same
// canonical shape: UTC timestamps, a canonical map key, and one
// RawPlayerEntry per participant.
//
// The replay header has no battle rating of its own, so the Normalizer
// derives one from the players' lineups through a RatingSource.
package capture
