// Package domain models historical weather observations and the exceedance
// statistics computed from them.
//
// # Data Sources
//
// Observations arrive in three shapes, each normalized into the same
// long-form [Record] set:
//
//   - Tables (CSV or spreadsheet): either "wide" with one column per variable,
//     or "long" with explicit variable/value columns.
//   - Grids: a time × latitude × longitude array per variable, as exported by
//     xarray (Dataset.to_dict) from reanalysis archives such as ERA5.
//   - Remote time series: per-parameter, per-coordinate lists of
//     {date, value} pairs.
//
// # Timestamp Resolution
//
// Tables carry their timestamp in one of several places. The resolution rules
// are tried in order and the first match wins (see [timeRules]):
//
//	1. a column named "time"
//	2. a date alias: validdate, date, datetime, timestamp
//	3. a year/month/day column triple
//
// Rows whose timestamp cannot be parsed are dropped and counted in
// Dataset.Dropped. A record never carries a zero time.
//
// # Units
//
// Source units are recorded, never applied. Column names often carry a unit
// suffix ("t_2m:C", "precip_1h:mm", "wind_speed_10m:ms"); grid variables
// carry a "units" attribute; the source catalog may override both. Kelvin
// archives stay in Kelvin: the threshold is converted to the native unit at
// query time so repeated queries never accumulate float drift.
//
// # Day of Year
//
// The day-of-year bucket is the raw calendar index (1..366). Leap years shift
// every date after February 28 by one bucket; 366 is a valid but rare bucket.
//
// # Exceedance
//
// Probabilities are empirical frequencies: the share of observations strictly
// greater than the threshold, as a percentage. Points inside a region are
// averaged per timestamp before thresholding, because averaging first and
// thresholding later do not commute. An empty day bucket reports NoData,
// never 0%.
package domain
