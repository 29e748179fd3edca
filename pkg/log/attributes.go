package log

// Run context
// These attributes identify what is being trained and where in the pipeline.
const (
	// TaskKey names the experiment setup, e.g. "it-hs", "it-stereotype", "it-span".
	TaskKey = "run.task"

	// LanguageKey is the corpus language: "italian", "spanish", "german".
	LanguageKey = "run.language"

	// RunIDKey identifies one TrainingRun (a UUID).
	RunIDKey = "run.id"

	// SearchIDKey identifies one grid search (a UUID shared by its cells).
	SearchIDKey = "search.id"

	// CellKey is the zero-based index of a grid cell in enumeration order.
	CellKey = "search.cell"

	// ComponentKey identifies the package emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the pipeline phase, see the Phase* values.
	PhaseKey = "ml.phase"

	// DeviceKey names the device the execution context runs on.
	DeviceKey = "run.device"
)

// Data shape
const (
	// SamplesKey is the number of examples in a split.
	SamplesKey = "data.samples"

	// BatchesKey is the number of batches in one epoch.
	BatchesKey = "data.batches"

	// PositiveRatioKey is the share of positive labels in a split, in percent.
	PositiveRatioKey = "data.positive_ratio"

	// SplitKey names a split: "train", "val", "test", "test_news".
	SplitKey = "data.split"
)

// Hyperparameters
const (
	SeedKey         = "hyperparams.seed"
	BatchSizeKey    = "hyperparams.batch_size"
	DropoutKey      = "hyperparams.dropout"
	LearningRateKey = "hyperparams.learning_rate"
	ClassWeightKey  = "hyperparams.class_weight"
	MaxEpochsKey    = "hyperparams.max_epochs"
	PatienceKey     = "hyperparams.patience"
)

// Metrics
const (
	EpochKey     = "training.epoch"
	TrainLossKey = "metrics.train_loss"
	ValLossKey   = "metrics.val_loss"
	MacroF1Key   = "metrics.macro_f1"
	PrecisionKey = "metrics.macro_precision"
	RecallKey    = "metrics.macro_recall"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)

// Error context
const (
	ErrorCodeKey = "error.code"

	// OperationKey names the step that failed, e.g. "val_loss" or "Trainer.Fit".
	OperationKey = "error.operation"
)

// Phase values.
const (
	PhasePreprocessing = "preprocessing"
	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseSearch        = "search"
)

// Error codes.
const (
	ErrorInvalidConfig = "INVALID_CONFIG"
	ErrorCellFailed    = "CELL_FAILED"
	ErrorDiverged      = "DIVERGED"
)
