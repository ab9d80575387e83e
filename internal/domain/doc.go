// Package domain implements the geomagnetic K-index derivation core:
// parsing IAGA-2002 observatory files into timestamped samples,
// rejecting statistical outliers, aggregating samples into fixed
// 3-hour UTC windows, and quantizing each window's disturbance onto
// the 0-9 K scale.
//
// # Data Source
//
// Input files follow the INTERMAGNET IAGA-2002 exchange format:
// minute-resolution magnetometer readings published per observatory
// and per day, e.g. via the GFZ Potsdam FTP archive. Retrieval is an
// external collaborator's job; this package only sees raw file bytes.
//
// # IAGA-2002 Conventions
//
// A file opens with a metadata block, one "key value |" line each,
// followed by a column header and whitespace-aligned data rows:
//
//	Format                 IAGA-2002                                    |
//	Station Name           Entoto                                       |
//	Reported               XYZF                                         |
//	DATE       TIME         DOY     ENTX      ENTY      ENTZ      ENTF  |
//	2026-03-01 00:00:00.000 060     35731.00  2735.00   10576.00  99999.00
//
// Component columns carry either generic labels (X, Y, Z) or
// station-prefixed ones (ENTX, ENTY, ENTZ); both resolve to one of
// the two supported triplets, Cartesian X,Y,Z or horizontal H,D,Z.
// When neither labeling matches, the "Reported" metadata declaration
// (XYZF/XYZ or HDZF/HDZ) decides. See [ParseIAGA2002].
//
// Units and sentinels:
//
//	Field strengths are nanotesla; declination D is arcminutes east of north.
//	99999.00 / 99999.9 mark missing readings and decode to "no value".
//	Non-numeric tokens likewise decode to "no value", never to a number.
//	Rows whose DATE+TIME columns fail to parse are dropped silently.
//
// All timestamps are UTC. Data rows preserve file order, which is not
// guaranteed chronological once several files are merged; callers sort
// before windowing.
//
// # K Derivation
//
// The first two components of the resolved triplet (the horizontal
// ones) drive the disturbance statistic. Filtered samples fall into
// 3-hour blocks indexed from midnight UTC of the earliest sample's
// calendar day; each occupied block reports the larger of the two
// components' peak-to-peak ranges, or zero when it holds fewer than
// two samples. See [AggregateWindows].
//
// Quantization scales the Niemegk base thresholds by the station's K9
// limit and picks the greatest level not exceeding the statistic. A
// quiet window reports 0.25 rather than 0, so downstream consumers can
// tell measured-quiet apart from absent data. See
// [ThresholdTable.Quantize].
//
// Everything in this package is pure computation over in-memory
// values: no I/O, no state carried between cycles. That independence
// is what makes one pipeline per station safe to run without
// coordination.
package domain
