package app

// Key binding constants used in handleKey.
const (
	KeyQuit      = "q"
	KeyQuitUpper = "Q"
	KeyCtrlC     = "ctrl+c"
	KeySpace     = " "
	KeyEnter     = "enter"
	KeyReset     = "r"
	KeyResetUp   = "R"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyK         = "k"
	KeyJ         = "j"
)
