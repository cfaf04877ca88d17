// Package common contains the logging setup and the configuration shared
// by the edb command line tools.
//
// All edb packages log through named dragonboat loggers
// (logger.GetLogger("vstore"), ...). InitLoggers replaces the default
// factory with a formatter that writes
//
//	2024/01/01 12:00:00 INFO  | vstore      | created version 1700000000000 in /data/users
//
// and sets the level of every edb logger.
package common
