package logger

import "log/slog"

func Dialog(id int64) slog.Attr {
	return slog.Int64("dialog_id", id)
}

func Destination(d string) slog.Attr {
	return slog.String("destination", d)
}

func Entry(id string) slog.Attr {
	return slog.String("entry_id", id)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
