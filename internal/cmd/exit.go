package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	errwrap "github.com/keygate/keygate/internal/errors"
)

// ExitWithCode exits the program with a semantic foundry exit code and logs the error.
//
// Parameters:
//   - logger: The logger to use for error output (can be nil for early failures)
//   - exitCode: The foundry exit code constant (e.g., foundry.ExitConfigInvalid)
//   - msg: Human-readable error message
//   - err: The underlying error (can be nil)
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_description", info.Description),
		zap.String("exit_category", info.Category),
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
			zap.String("trace_id", envelope.TraceID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if originalErr, ok := envelope.Original.(error); ok && originalErr != nil {
			err = originalErr
		}
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr is a variant that writes to stderr without a logger.
// Use this for early failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		writeFatal(msg, err)
		os.Exit(int(exitCode))
	}

	writeFatal(msg, err)
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}

// ExitCodeFor maps a command error onto a foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var envelope *errors.ErrorEnvelope
	if !stderrors.As(err, &envelope) {
		return foundry.ExitFailure
	}

	switch envelope.Code {
	case errwrap.CodeConfigInvalid, errwrap.CodeInvalidInput:
		return foundry.ExitConfigInvalid
	default:
		return foundry.ExitFailure
	}
}

func writeFatal(msg string, err error) {
	if err == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
		return
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %v (correlation: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		if originalErr, ok := envelope.Original.(error); ok && originalErr != nil {
			fmt.Fprintf(os.Stderr, "Underlying error: %v\n", originalErr)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
}
