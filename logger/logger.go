/*
 * Copyright 2023 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger      *zap.Logger
	atomicLevel zap.AtomicLevel
)

type LogFile struct {
	Path       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

type LoggerConfig struct {
	LogLevel       string
	LogMethod      string
	LogFile        LogFile
	VectorEndpoint string
}

// Initialize sets up the global zap logger. Logs always go to stdout as
// JSON; LogMethod can additionally tee them into a rotated file or a
// vector HTTP sink. The app and host fields ride on every sink.
func Initialize(svc, hostname string, config LoggerConfig) error {

	atomicLevel = zap.NewAtomicLevel()
	atomicLevel.SetLevel(parseLevel(config.LogLevel))

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(ProdEncoderConf()), os.Stdout, atomicLevel),
	}

	switch config.LogMethod {
	case "file":
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.LogFile.Path + "/" + svc + ".log",
			MaxSize:    config.LogFile.MaxSize, // megabytes
			MaxBackups: config.LogFile.MaxBackups,
			MaxAge:     config.LogFile.MaxAge, // days
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ProdEncoderConf()), rotated, atomicLevel))
	case "vector":
		vec, err := openVectorSyncer(config.VectorEndpoint)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ProdEncoderConf()), vec, atomicLevel))
	}

	logger = zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.Fields(
			zap.String("app", svc),
			zap.String("host", hostname),
		))

	zap.ReplaceGlobals(logger)
	return nil
}

// openVectorSyncer validates the vector endpoint and opens a zap sink
// that posts every log line to it. Sink schemes register once per
// process, a second vector logger in the same process is an error.
func openVectorSyncer(rawEndpoint string) (zapcore.WriteSyncer, error) {
	endpoint, err := url.Parse(rawEndpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to parse vector endpoint %q - %w", rawEndpoint, err)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("vector endpoint %q is missing a host", rawEndpoint)
	}

	err = zap.RegisterSink("vector", func(*url.URL) (zap.Sink, error) {
		return initVectorSink(endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to register vector sink - %w", err)
	}

	syncer, _, err := zap.Open("vector://" + endpoint.Host)
	if err != nil {
		return nil, fmt.Errorf("unable to open vector sink - %w", err)
	}

	return syncer, nil
}

func Flush() {
	if logger != nil {
		logger.Sync()
	}
}

func SetLevel(l string) {
	atomicLevel.SetLevel(parseLevel(l))
}

func GetLevel() string {
	return atomicLevel.Level().String()
}

// parseLevel maps a level name onto a zap level, falling back to info
// on anything it does not recognize.
func parseLevel(l string) zapcore.Level {
	level, err := zapcore.ParseLevel(l)
	if err != nil {
		return zap.InfoLevel
	}
	return level
}

func ProdEncoderConf() zapcore.EncoderConfig {
	encConf := zap.NewProductionEncoderConfig()
	encConf.EncodeTime = zapcore.RFC3339TimeEncoder

	return encConf
}

// Verbosity reports the current log level of the process.
func Verbosity(w http.ResponseWriter, r *http.Request) {
	level := GetLevel()
	zap.L().Info("current logging level", zap.String("level", level))

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "{\"verbosity\": \"%s\"}", level)
}

// SetVerbosity changes the log level at runtime through the v query
// parameter.
func SetVerbosity(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("v")
	if level == "" {
		http.Error(w, "'v' parameter is not set", http.StatusBadRequest)
		return
	}

	SetLevel(level)
	zap.L().Info("updating logging level", zap.String("level", level))

	w.WriteHeader(http.StatusNoContent)
}
