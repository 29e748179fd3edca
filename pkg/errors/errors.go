// Package errors はファインチューニングパイプライン全体のエラーハンドリングと警告システムを提供します。
// 設定エラー・データ形状エラー・数値不安定性を型で区別し、zerologで構造化ログとして出力できます。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("haspeede-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler は警告ハンドラを差し替えます。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します。nilを渡すと解除されます。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されていれば構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// UndefinedMetricWarning は評価指標が計算できない場合の警告です。
// 例えば、あるクラスの予測が一つもなく適合率(precision)の分母が0になった場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Label     int
	Condition string
	Result    float64 // この条件で返される値
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined for label %d and being set to %g due to %s",
		w.Metric, w.Label, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Int("label", w.Label).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric string, label int, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Label: label, Condition: condition, Result: result}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// NotFittedError は学習もチェックポイント読み込みもしていないモデルで推論した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("haspeede: %s: model is not trained yet. Fit it or load a checkpoint before calling %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// DimensionError はテンソルの次元が期待値と異なる場合のエラーです。
// 例えばトークン列とタグ列の長さ不一致、ロジットとラベルの行数不一致など。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0: batch, 1: sequence position / class
}

func (e *DimensionError) axisName() string {
	if e.Axis == 0 {
		return "batch"
	}
	return "positions"
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("haspeede: %s: dimension mismatch on axis %d (%s). Expected %d, got %d",
		e.Op, e.Axis, e.axisName(), e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", e.axisName()).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は設定値の検証に失敗した場合のエラーです。
// 早期終了モニタの不正なmode、グリッドの空の候補リストなど、学習開始前に検出される設定エラーを表します。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("haspeede: invalid configuration for '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は入力データの値が不正な場合のエラーです。
// 例えば未知のIOBタグや、数値に変換できないラベル列など。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("haspeede: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ModelError はモデルの順伝播・逆伝播・永続化に関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("haspeede: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("haspeede: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// CellError はグリッドサーチの1セル（ハイパーパラメータの組）の学習に失敗した場合のエラーです。
// 失敗したセルの設定を保持し、元のエラーをラップします。
type CellError struct {
	Index     int
	Seed      int64
	BatchSize int
	Dropout   float64
	Err       error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("haspeede: grid cell %d (seed=%d batch_size=%d dropout=%g) failed: %v",
		e.Index, e.Seed, e.BatchSize, e.Dropout, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *CellError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("cell", e.Index).
		Int64("seed", e.Seed).
		Int("batch_size", e.BatchSize).
		Float64("dropout", e.Dropout).
		AnErr("cause", e.Err).
		Str("type", "CellError")
}

// NewCellError は新しいCellErrorを作成し、スタックトレースを付与します。
func NewCellError(index int, seed int64, batchSize int, dropout float64, err error) error {
	return errors.WithStack(&CellError{Index: index, Seed: seed, BatchSize: batchSize, Dropout: dropout, Err: err})
}

// NumericalInstabilityError は損失や勾配にNaN・Infが現れた場合のエラーです。
type NumericalInstabilityError struct {
	Operation string    // 発生した操作（例: "bce_loss", "adam_step"）
	Values    []float64 // 問題のある値
	Iteration int       // 発生したステップ番号
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("haspeede: numerical instability detected in %s at step %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	return errors.WithStack(&NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のコーパス・空のデータセットが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrUnknownLanguage はエンコーダやストップワードが未登録の言語の場合のエラーです。
	ErrUnknownLanguage = New("unknown language")

	// ErrEmptyGrid は探索するハイパーパラメータの組が一つもない場合のエラーです。
	ErrEmptyGrid = New("empty hyperparameter grid")
)
