package turn

// Presenter receives reply text while a turn is generating. Fragment is called
// synchronously: the next fragment is not requested until it returns.
type Presenter interface {
	Fragment(text string)
}

// PresenterFunc adapts a function to a Presenter.
type PresenterFunc func(text string)

func (f PresenterFunc) Fragment(text string) { f(text) }

// Discard drops every fragment.
var Discard Presenter = PresenterFunc(func(string) {})

// Identity supplies the signed-in user, when there is one.
type Identity interface {
	CurrentUser() (string, bool)
}

// User is a fixed Identity. The empty User is anonymous.
type User string

func (u User) CurrentUser() (string, bool) {
	return string(u), u != ""
}

// Anonymous has no user; sessions started with it are not persisted to history.
var Anonymous Identity = User("")
