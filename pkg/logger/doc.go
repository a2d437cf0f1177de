// Package logger provides structured logging for imgbatch on top of zerolog.
//
// Loggers are built once by the command from config.LoggingConfig and passed
// down explicitly; there is no package-level instance.
//
//	log, closer, err := logger.New(&cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
//	log.WithField("account_id", "42").Info("Group started")
//	log.InfoWithFields("Record downloaded", map[string]interface{}{
//	    "file_name": "0115093000.jpg",
//	    "attempts":  1,
//	})
//
// Output is pretty-printed when stdout is a terminal and JSON otherwise.
// Tests use NewTestLogger to capture messages or NewNopLogger to drop them.
package logger
